package events

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit    EventType = "block_commit"
	EventTxExecuted     EventType = "tx_executed"
	EventTransfer       EventType = "transfer"
	EventAccountCreate  EventType = "account_create"
	EventAssetCreate    EventType = "asset_create"
	EventAssetIssue     EventType = "asset_issue"
	EventFeedPublish    EventType = "feed_publish"
	EventOrderFill      EventType = "order_fill"
	EventOrderCancel    EventType = "order_cancel"
	EventMarginCall     EventType = "margin_call"
	EventGlobalSettle   EventType = "global_settle"
	EventProposalExec   EventType = "proposal_execute"
	EventMaintenance    EventType = "maintenance"
	EventReorg          EventType = "reorg"
)

// AllTypes returns every known EventType, for subscribers (the websocket
// feed in rpc/feed.go) that want to fan out across all of them at once.
func AllTypes() []EventType {
	return []EventType{
		EventBlockCommit, EventTxExecuted, EventTransfer, EventAccountCreate,
		EventAssetCreate, EventAssetIssue, EventFeedPublish, EventOrderFill,
		EventOrderCancel, EventMarginCall, EventGlobalSettle, EventProposalExec,
		EventMaintenance, EventReorg,
	}
}

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
