package auria

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable failure category. These values cross the engine boundary
// and must not be renamed.
type Kind string

const (
	KindShardNotFound        Kind = "ShardNotFound"
	KindExpertNotFound       Kind = "ExpertNotFound"
	KindLicenseInvalid       Kind = "LicenseInvalid"
	KindInsufficientHardware Kind = "InsufficientHardware"
	KindStorage              Kind = "StorageError"
	KindExecution            Kind = "ExecutionError"
	KindNetwork              Kind = "NetworkError"
)

// Kinds lists every failure category.
var Kinds = []Kind{
	KindShardNotFound,
	KindExpertNotFound,
	KindLicenseInvalid,
	KindInsufficientHardware,
	KindStorage,
	KindExecution,
	KindNetwork,
}

// Error is the unified failure type.
//
// Only the context fields relevant to Kind are populated: Shard for
// ShardNotFound and LicenseInvalid, Expert for ExpertNotFound, Tier for
// InsufficientHardware. Reason is a short machine-readable token (for example
// "expired" or "quota-exhausted"). Ref carries an opaque handle the caller may
// pass back to retry, such as a pending settlement key.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Shard   ShardID
	Expert  ExpertID
	License LicenseID
	Node    NodeID
	Tier    Tier
	Reason  string
	Ref     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch e.Kind {
	case KindShardNotFound, KindLicenseInvalid, KindStorage, KindNetwork:
		if e.Shard != "" {
			fmt.Fprintf(&b, "(%s)", e.Shard)
		}
	case KindExpertNotFound:
		fmt.Fprintf(&b, "(%s)", e.Expert)
	case KindInsufficientHardware:
		fmt.Fprintf(&b, "(%s)", e.Tier)
	}
	if e.Reason != "" {
		b.WriteString(" [")
		b.WriteString(e.Reason)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *Error by Kind only, so errors.Is(err, &Error{Kind: k})
// works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind && t.Shard == "" && t.Expert == "" && t.Message == ""
}

// Retryable reports whether the caller may safely retry the failed
// operation unchanged.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindStorage || e.Kind == KindNetwork
}

func ShardNotFound(id ShardID, cause error) *Error {
	return &Error{Kind: KindShardNotFound, Shard: id, Cause: cause}
}

func ExpertNotFound(id ExpertID) *Error {
	return &Error{Kind: KindExpertNotFound, Expert: id}
}

func LicenseInvalid(shard ShardID, reason, msg string) *Error {
	return &Error{Kind: KindLicenseInvalid, Shard: shard, Reason: reason, Message: msg}
}

func InsufficientHardware(tier Tier, msg string) *Error {
	return &Error{Kind: KindInsufficientHardware, Tier: tier, Message: msg}
}

func StorageError(msg string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Cause: cause}
}

func ExecutionError(msg string, cause error) *Error {
	return &Error{Kind: KindExecution, Message: msg, Cause: cause}
}

func NetworkError(msg string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: msg, Cause: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if err
// carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
