// Package keys holds the signing keys used by license issuers and nodes.
//
// Stable:
//   - Public-key string encoding ("ed25519:<base64>", "dilithium3:<base64>"),
//     role-seed derivation and signature verification. Licenses and usage
//     receipts depend on these bytes.
//
// Local-first helpers:
//   - KeyStore, a filesystem layout under ~/.auria/keys, and GuardedSigner,
//     which keeps a seed in locked memory for long-running nodes.
package keys
