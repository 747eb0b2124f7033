// Package auria defines the identifiers, service tiers and the unified error
// taxonomy shared by every component of the shard licensing and expert
// assembly engine.
//
// Every failure that crosses the engine boundary is an *Error with one of the
// Kind values declared here. Callers should branch on Kind (see KindOf and
// IsKind) and on the structured context fields, never on Error() strings.
package auria
