package model

// ExecutionRequest asks a node to run an expert.
//
// JSON note: Inputs are encoded as base64 by encoding/json.
type ExecutionRequest struct {
	Expert string `json:"expert"`
	Node   string `json:"node"`
	Tier   string `json:"tier"`
	Inputs []byte `json:"inputs,omitempty"`
}

type SettledLicense struct {
	License string `json:"license"`
	Shard   string `json:"shard"`
	Bundle  string `json:"bundle,omitempty"`
	Units   uint64 `json:"units"`
}

// Receipt is the boundary form of a settlement receipt. CommittedAt is
// RFC 3339 in UTC.
type Receipt struct {
	Request        string           `json:"request"`
	Node           string           `json:"node"`
	Seq            uint64           `json:"seq"`
	IdempotencyKey string           `json:"idempotencyKey"`
	Expert         string           `json:"expert"`
	Tier           string           `json:"tier"`
	Shards         []string         `json:"shards"`
	Licenses       []SettledLicense `json:"licenses"`
	InputsDigest   string           `json:"inputsDigest,omitempty"`
	OutputsDigest  string           `json:"outputsDigest,omitempty"`
	Tokens         uint64           `json:"tokens"`
	CommittedAt    string           `json:"committedAt"`
	Prev           string           `json:"prev,omitempty"`
	Hash           string           `json:"hash"`
	Signer         string           `json:"signer,omitempty"`
	Signature      string           `json:"signature,omitempty"`
}

type ExecutionResponse struct {
	Receipt Receipt `json:"receipt"`
	Output  []byte  `json:"output,omitempty"`
}

// AuditReport summarizes a node's receipt chain.
type AuditReport struct {
	Node     string `json:"node"`
	Receipts int    `json:"receipts"`
	Head     string `json:"head,omitempty"`
	OK       bool   `json:"ok"`
	Problem  string `json:"problem,omitempty"`
}

// LicenseUsage is the boundary form of a license's settled usage.
// LastSettled is RFC 3339 in UTC, empty when the license was never charged.
type LicenseUsage struct {
	License     string `json:"license"`
	Units       uint64 `json:"units"`
	Requests    uint64 `json:"requests"`
	Tokens      uint64 `json:"tokens"`
	LastSettled string `json:"lastSettled,omitempty"`
}
