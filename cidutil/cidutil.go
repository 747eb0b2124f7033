// Package cidutil derives the content identifiers used across the module:
// CIDv1 with the "raw" multicodec over a sha2-256 multihash. Shard blobs,
// bundle entries and usage receipts are all addressed this way.
package cidutil

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrMismatch is returned by Verify when data does not hash to the CID.
var ErrMismatch = errors.New("cidutil: content does not match cid")

// Sum returns the CIDv1 (raw + sha2-256) of data.
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// MustSum is Sum for callers that hash in-memory bytes; sha2-256 with the
// default length cannot fail.
func MustSum(data []byte) cid.Cid {
	id, err := Sum(data)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the CID string of data, or "" if hashing fails.
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// Verify checks that data hashes to id using id's own multihash parameters.
func Verify(id cid.Cid, data []byte) error {
	if !id.Defined() {
		return errors.New("cidutil: undefined cid")
	}
	got, err := id.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("cidutil: hash: %w", err)
	}
	if !got.Equals(id) {
		return ErrMismatch
	}
	return nil
}

// Parse decodes a CID string and rejects the undefined CID.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, errors.New("cidutil: undefined cid")
	}
	return id, nil
}
