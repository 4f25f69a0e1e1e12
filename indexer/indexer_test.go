package indexer

import (
	"encoding/json"
	"testing"

	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/internal/testutil"
)

func TestGetAssetsByAccountUnknownReturnsEmpty(t *testing.T) {
	idx := New(testutil.NewMemDB(), events.NewEmitter())
	ids, err := idx.GetAssetsByAccount("nobody")
	if err != nil {
		t.Fatalf("GetAssetsByAccount: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no assets for an unknown account, got %v", ids)
	}
}

func TestOnTransferIndexesBothSides(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	emitter.Emit(events.Event{Type: events.EventTransfer, Data: map[string]any{
		"from": "1.2.0", "to": "1.2.1", "amount": int64(100), "asset": "1.3.0",
	}})

	fromAssets, err := idx.GetAssetsByAccount("1.2.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(fromAssets) != 1 || fromAssets[0] != "1.3.0" {
		t.Errorf("sender's asset index: got %v want [1.3.0]", fromAssets)
	}

	toAssets, err := idx.GetAssetsByAccount("1.2.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(toAssets) != 1 || toAssets[0] != "1.3.0" {
		t.Errorf("recipient's asset index: got %v want [1.3.0]", toAssets)
	}
}

func TestOnTransferDoesNotDuplicateAsset(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	for i := 0; i < 3; i++ {
		emitter.Emit(events.Event{Type: events.EventTransfer, Data: map[string]any{
			"from": "1.2.0", "to": "1.2.1", "amount": int64(1), "asset": "1.3.0",
		}})
	}

	assets, err := idx.GetAssetsByAccount("1.2.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 {
		t.Errorf("asset should only be indexed once, got %v", assets)
	}
}

func TestOnAssetIssueIndexesRecipient(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	emitter.Emit(events.Event{Type: events.EventAssetIssue, Data: map[string]any{
		"to": "1.2.5", "asset": "1.3.1",
	}})

	assets, err := idx.GetAssetsByAccount("1.2.5")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0] != "1.3.1" {
		t.Errorf("issued asset index: got %v want [1.3.1]", assets)
	}
}

func TestOnOrderFillIndexesTakerAndMaker(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	emitter.Emit(events.Event{Type: events.EventOrderFill, Data: map[string]any{
		"taker": "1.7.0", "maker": "1.7.1", "base": int64(10), "quote": int64(20),
	}})

	fills, err := idx.GetFillsByOrder("1.7.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill logged for the taker order, got %d", len(fills))
	}
	var decoded map[string]any
	if err := json.Unmarshal(fills[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["maker"] != "1.7.1" {
		t.Errorf("fill record maker: got %v want 1.7.1", decoded["maker"])
	}

	makerFills, err := idx.GetFillsByOrder("1.7.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(makerFills) != 1 {
		t.Errorf("expected the same fill logged for the maker order too, got %d", len(makerFills))
	}
}

func TestOnProposalExecAppendsLog(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	emitter.Emit(events.Event{Type: events.EventProposalExec, Data: map[string]any{"proposal": "1.10.0"}})
	emitter.Emit(events.Event{Type: events.EventProposalExec, Data: map[string]any{"proposal": "1.10.1"}})

	log, err := idx.GetProposalLog()
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 proposal log entries, got %d", len(log))
	}
}
