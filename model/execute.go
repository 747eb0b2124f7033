package model

import (
	"context"
	"time"

	"auria.dev/core/auria"
	"auria.dev/core/engine"
	"auria.dev/core/ledger"
)

// Executor is the engine surface the boundary layer drives.
type Executor interface {
	RequestExecution(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Execute validates req, runs it and returns the boundary response. All
// failures are *CodedError.
func Execute(ctx context.Context, e Executor, req ExecutionRequest) (*ExecutionResponse, error) {
	r, err := toRequest(req)
	if err != nil {
		return nil, err
	}
	res, err := e.RequestExecution(ctx, r)
	if err != nil {
		return nil, FromError(err)
	}
	return &ExecutionResponse{Receipt: FromReceipt(res.Receipt), Output: res.Output.Data}, nil
}

func toRequest(req ExecutionRequest) (engine.Request, error) {
	if req.Expert == "" || req.Node == "" {
		return engine.Request{}, NewError(ErrInvalidRequest, "expert and node are required")
	}
	tier, err := auria.ParseTier(req.Tier)
	if err != nil {
		return engine.Request{}, NewError(ErrInvalidRequest, err.Error())
	}
	return engine.Request{
		Expert: auria.ExpertID(req.Expert),
		Node:   auria.NodeID(req.Node),
		Tier:   tier,
		Inputs: req.Inputs,
	}, nil
}

// FromReceipt projects a ledger receipt.
func FromReceipt(r *ledger.Receipt) Receipt {
	out := Receipt{
		Request:        r.Request.String(),
		Node:           string(r.Node),
		Seq:            r.Seq,
		IdempotencyKey: r.Key.String(),
		Expert:         string(r.Expert),
		Tier:           r.Tier.String(),
		Shards:         make([]string, 0, len(r.Shards)),
		Licenses:       make([]SettledLicense, 0, len(r.Licenses)),
		InputsDigest:   r.InputsDigest,
		OutputsDigest:  r.OutputsDigest,
		Tokens:         r.Tokens,
		CommittedAt:    r.CommittedAt.UTC().Format(time.RFC3339Nano),
		Prev:           r.Prev,
		Hash:           r.Hash,
		Signer:         r.Signer,
		Signature:      r.Signature,
	}
	for _, s := range r.Shards {
		out.Shards = append(out.Shards, string(s))
	}
	for _, l := range r.Licenses {
		out.Licenses = append(out.Licenses, SettledLicense{
			License: string(l.License),
			Shard:   string(l.Shard),
			Bundle:  string(l.Bundle),
			Units:   l.Units,
		})
	}
	return out
}

// FromReceipts projects a node's receipts.
func FromReceipts(rs []*ledger.Receipt) []Receipt {
	out := make([]Receipt, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromReceipt(r))
	}
	return out
}

// FromUsage projects a license's settled usage.
func FromUsage(u ledger.Usage) LicenseUsage {
	out := LicenseUsage{License: string(u.License), Units: u.Units, Requests: u.Requests, Tokens: u.Tokens}
	if !u.LastSettled.IsZero() {
		out.LastSettled = u.LastSettled.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// Audit builds an AuditReport from a node's receipts.
func Audit(node string, rs []*ledger.Receipt, trustedKey string) AuditReport {
	rep := AuditReport{Node: node, Receipts: len(rs), OK: true}
	if len(rs) > 0 {
		rep.Head = rs[len(rs)-1].Hash
	}
	if err := ledger.AuditChain(rs, trustedKey); err != nil {
		rep.OK = false
		rep.Problem = err.Error()
	}
	return rep
}
