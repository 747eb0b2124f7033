package model

import (
	"errors"
	"fmt"

	"auria.dev/core/auria"
	"auria.dev/core/storage"
)

type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrShardNotFound        ErrorCode = "SHARD_NOT_FOUND"
	ErrExpertNotFound       ErrorCode = "EXPERT_NOT_FOUND"
	ErrLicenseInvalid       ErrorCode = "LICENSE_INVALID"
	ErrInsufficientHardware ErrorCode = "INSUFFICIENT_HARDWARE"
	ErrStorage              ErrorCode = "STORAGE_ERROR"
	ErrExecution            ErrorCode = "EXECUTION_ERROR"
	ErrNetwork              ErrorCode = "NETWORK_ERROR"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrCIDMismatch          ErrorCode = "CID_MISMATCH"
	ErrInternal             ErrorCode = "INTERNAL"
)

var kindCodes = map[auria.Kind]ErrorCode{
	auria.KindShardNotFound:        ErrShardNotFound,
	auria.KindExpertNotFound:       ErrExpertNotFound,
	auria.KindLicenseInvalid:       ErrLicenseInvalid,
	auria.KindInsufficientHardware: ErrInsufficientHardware,
	auria.KindStorage:              ErrStorage,
	auria.KindExecution:            ErrExecution,
	auria.KindNetwork:              ErrNetwork,
}

// CodedError is a stable error with a machine-readable code, a human
// message and the structured context of the failure.
type CodedError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Shard     string    `json:"shard,omitempty"`
	Expert    string    `json:"expert,omitempty"`
	License   string    `json:"license,omitempty"`
	Node      string    `json:"node,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// FromError projects err onto a CodedError.
func FromError(err error) *CodedError {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	if ae, ok := auria.As(err); ok {
		code, known := kindCodes[ae.Kind]
		if !known {
			code = ErrInternal
		}
		out := &CodedError{
			Code:      code,
			Message:   ae.Error(),
			Shard:     string(ae.Shard),
			Expert:    string(ae.Expert),
			License:   string(ae.License),
			Node:      string(ae.Node),
			Reason:    ae.Reason,
			Ref:       ae.Ref,
			Retryable: ae.Retryable(),
		}
		if ae.Kind == auria.KindInsufficientHardware {
			out.Tier = ae.Tier.String()
		}
		return out
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NewError(ErrNotFound, err.Error())
	case errors.Is(err, storage.ErrCIDMismatch):
		return NewError(ErrCIDMismatch, err.Error())
	default:
		return NewError(ErrInternal, err.Error())
	}
}
