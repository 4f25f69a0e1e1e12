// Package indexer maintains secondary lookup tables over committed chain
// events so RPC clients can answer "which assets has this account touched"
// or "what filled against this order" without a full index scan.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/storage"
)

const (
	prefixAccountAsset = "idx:account:asset:"
	prefixOrderFill     = "idx:order:fill:"
	prefixProposalLog   = "idx:proposal:log"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventTransfer, idx.onTransfer)
	emitter.Subscribe(events.EventAssetIssue, idx.onAssetIssue)
	emitter.Subscribe(events.EventOrderFill, idx.onOrderFill)
	emitter.Subscribe(events.EventProposalExec, idx.onProposalExec)
	return idx
}

// GetAssetsByAccount returns every asset ID an account has held a nonzero
// balance of at some point (transferred in/out, or issued to directly).
func (idx *Indexer) GetAssetsByAccount(account string) ([]string, error) {
	return idx.getList(prefixAccountAsset + account)
}

// GetFillsByOrder returns the JSON-encoded fill records an order appeared in,
// as taker or maker, oldest first.
func (idx *Indexer) GetFillsByOrder(order string) ([]json.RawMessage, error) {
	return idx.getRawList(prefixOrderFill + order)
}

// GetProposalLog returns the full proposal create/execute history, oldest first.
func (idx *Indexer) GetProposalLog() ([]json.RawMessage, error) {
	return idx.getRawList(prefixProposalLog)
}

// ---- event handlers ----

func (idx *Indexer) onTransfer(ev events.Event) {
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	asset, _ := ev.Data["asset"].(string)
	if asset == "" {
		return
	}
	if from != "" {
		if err := idx.addToList(prefixAccountAsset+from, asset); err != nil {
			log.Printf("[indexer] transfer index write failed (account=%s asset=%s): %v", from, asset, err)
		}
	}
	if to != "" {
		if err := idx.addToList(prefixAccountAsset+to, asset); err != nil {
			log.Printf("[indexer] transfer index write failed (account=%s asset=%s): %v", to, asset, err)
		}
	}
}

func (idx *Indexer) onAssetIssue(ev events.Event) {
	to, _ := ev.Data["to"].(string)
	asset, _ := ev.Data["asset"].(string)
	if to == "" || asset == "" {
		return
	}
	if err := idx.addToList(prefixAccountAsset+to, asset); err != nil {
		log.Printf("[indexer] issue index write failed (account=%s asset=%s): %v", to, asset, err)
	}
}

func (idx *Indexer) onOrderFill(ev events.Event) {
	taker, _ := ev.Data["taker"].(string)
	maker, _ := ev.Data["maker"].(string)
	if taker == "" || maker == "" {
		return
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		log.Printf("[indexer] fill marshal failed: %v", err)
		return
	}
	if err := idx.appendRaw(prefixOrderFill+taker, data); err != nil {
		log.Printf("[indexer] fill index write failed (order=%s): %v", taker, err)
	}
	if err := idx.appendRaw(prefixOrderFill+maker, data); err != nil {
		log.Printf("[indexer] fill index write failed (order=%s): %v", maker, err)
	}
}

func (idx *Indexer) onProposalExec(ev events.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		log.Printf("[indexer] proposal log marshal failed: %v", err)
		return
	}
	if err := idx.appendRaw(prefixProposalLog, data); err != nil {
		log.Printf("[indexer] proposal log write failed: %v", err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) getRawList(key string) ([]json.RawMessage, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return items, nil
}

func (idx *Indexer) appendRaw(key string, value json.RawMessage) error {
	items, err := idx.getRawList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	items = append(items, value)
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
