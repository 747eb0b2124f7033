package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"auria.dev/core/auria"
	"auria.dev/core/ledger"
)

func sampleReceipt() *ledger.Receipt {
	return &ledger.Receipt{
		Request: uuid.MustParse("6f1c2f3e-8a4b-4c1d-9e2f-0a1b2c3d4e5f"),
		Node:    "node-a",
		Seq:     2,
		Key:     ledger.IdempotencyKey{Node: "node-a", Seq: 7},
		Expert:  "E1",
		Tier:    auria.Standard,
		Shards:  []auria.ShardID{"S1", "S2"},
		Licenses: []ledger.SettledLicense{
			{License: "L1", Shard: "S1", Bundle: "B1", Units: 1},
			{License: "L2", Shard: "S2", Units: 1},
		},
		InputsDigest:  "bafk-in",
		OutputsDigest: "bafk-out",
		Tokens:        12,
		CommittedAt:   time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC),
		Prev:          "bafk-prev",
		Hash:          "bafk-hash",
	}
}

func TestSnapshot_Receipt_JSONShape(t *testing.T) {
	b, err := json.MarshalIndent(FromReceipt(sampleReceipt()), "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"request\": \"6f1c2f3e-8a4b-4c1d-9e2f-0a1b2c3d4e5f\",\n" +
		"  \"node\": \"node-a\",\n" +
		"  \"seq\": 2,\n" +
		"  \"idempotencyKey\": \"node-a/7\",\n" +
		"  \"expert\": \"E1\",\n" +
		"  \"tier\": \"Standard\",\n" +
		"  \"shards\": [\n" +
		"    \"S1\",\n" +
		"    \"S2\"\n" +
		"  ],\n" +
		"  \"licenses\": [\n" +
		"    {\n" +
		"      \"license\": \"L1\",\n" +
		"      \"shard\": \"S1\",\n" +
		"      \"bundle\": \"B1\",\n" +
		"      \"units\": 1\n" +
		"    },\n" +
		"    {\n" +
		"      \"license\": \"L2\",\n" +
		"      \"shard\": \"S2\",\n" +
		"      \"units\": 1\n" +
		"    }\n" +
		"  ],\n" +
		"  \"inputsDigest\": \"bafk-in\",\n" +
		"  \"outputsDigest\": \"bafk-out\",\n" +
		"  \"tokens\": 12,\n" +
		"  \"committedAt\": \"2024-07-15T09:00:00Z\",\n" +
		"  \"prev\": \"bafk-prev\",\n" +
		"  \"hash\": \"bafk-hash\"\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestSnapshot_CodedError_JSONShape(t *testing.T) {
	ae := auria.LicenseInvalid("S2", "expired", "expired at 2024-06-30T00:00:00Z")
	ae.License = "L2"
	ae.Node = "node-a"

	b, err := json.MarshalIndent(FromError(ae), "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"code\": \"LICENSE_INVALID\",\n" +
		"  \"message\": \"LicenseInvalid(S2) [expired]: expired at 2024-06-30T00:00:00Z\",\n" +
		"  \"shard\": \"S2\",\n" +
		"  \"license\": \"L2\",\n" +
		"  \"node\": \"node-a\",\n" +
		"  \"reason\": \"expired\"\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}
