// Package model defines stable boundary types for API and CLI layers.
//
// Receipt identity (the canonical body and its content hash) is unaffected
// by any projection here. These structs are the only types intended for
// direct JSON serialization by consumers.
package model
