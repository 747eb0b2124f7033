package license

import (
	"errors"
	"fmt"

	"auria.dev/core/auria"
	"auria.dev/core/keys"
)

// Verifier checks issuer signatures against a trusted issuer set.
type Verifier struct {
	trusted map[string]struct{}
}

// NewVerifier trusts the given "alg:base64" issuer public keys.
func NewVerifier(issuers ...string) (*Verifier, error) {
	v := &Verifier{trusted: make(map[string]struct{}, len(issuers))}
	for _, is := range issuers {
		if _, _, err := keys.ParsePublicKey(is); err != nil {
			return nil, fmt.Errorf("license: trusted issuer: %w", err)
		}
		v.trusted[is] = struct{}{}
	}
	return v, nil
}

// Verify checks lic's structure, that its issuer is trusted, and its
// signature. Failures are LicenseInvalid for lic.Shard.
func (v *Verifier) Verify(lic *License) error {
	fail := func(reason string, err error) error {
		e := auria.LicenseInvalid(lic.Shard, reason, err.Error())
		e.License = lic.ID
		e.Cause = err
		return e
	}
	if err := lic.Check(); err != nil {
		return fail(ReasonMalformed, err)
	}
	if _, ok := v.trusted[lic.Issuer]; !ok {
		return fail(ReasonUntrustedIssuer, fmt.Errorf("issuer %q is not trusted", lic.Issuer))
	}
	if lic.Signature == "" {
		return fail(ReasonBadSignature, errors.New("license is unsigned"))
	}
	payload, err := SigningPayload(lic)
	if err != nil {
		return fail(ReasonMalformed, err)
	}
	if err := keys.Verify(lic.Issuer, lic.HashAlg, payload, lic.Signature); err != nil {
		return fail(ReasonBadSignature, err)
	}
	return nil
}

// Sign sets the issuer fields of lic and signs it.
func Sign(lic *License, signer keys.Signer) error {
	lic.Issuer = signer.PublicKey()
	lic.HashAlg = signer.HashAlg()
	lic.Signature = ""
	payload, err := SigningPayload(lic)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	lic.Signature = sig
	return nil
}
