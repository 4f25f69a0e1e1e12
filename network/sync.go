package network

import (
	"encoding/json"
	"log"

	"github.com/ledgerforge/forgechain/core"
)

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}

// BlocksResponse carries a batch of blocks.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// BlockValidator validates a block before it is accepted into the chain.
type BlockValidator interface {
	ValidateBlock(block *core.Block) error
}

// BlockSink tracks blocks speculatively and picks the canonical head among
// them (forkdb.Tree implements this): PushBlock tracks a new block against
// its declared parent and applies it at once only if it extends the current
// head; Reconcile switches the head to the block's branch if that branch is
// now the longest known chain.
type BlockSink interface {
	PushBlock(block *core.Block) error
	Reconcile(candidate *core.Block) error
}

// Syncer handles block synchronisation between nodes.
type Syncer struct {
	node      *Node
	bc        *core.Blockchain
	validator BlockValidator
	sink      BlockSink // may be nil; synced blocks are then recorded without being applied to state
}

// NewSyncer creates a Syncer that requests missing blocks from peers.
// Pass a non-nil sink so that synced blocks are fully applied to local
// state and considered for reorgs; without one the node will have blocks
// recorded but no resulting account/asset state.
func NewSyncer(node *Node, bc *core.Blockchain, validator BlockValidator, sink BlockSink) *Syncer {
	s := &Syncer{node: node, bc: bc, validator: validator, sink: sink}
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	return s
}

// RequestBlocks asks peer for blocks starting at fromHeight.
func (s *Syncer) RequestBlocks(peer *Peer, fromHeight int64) error {
	req, err := json.Marshal(GetBlocksRequest{FromHeight: fromHeight, Limit: 50})
	if err != nil {
		return err
	}
	return peer.Send(Message{Type: MsgGetBlocks, Payload: req})
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	blocks := make([]*core.Block, 0, req.Limit)
	for h := req.FromHeight; h < req.FromHeight+int64(req.Limit); h++ {
		b, err := s.bc.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	data, err := json.Marshal(BlocksResponse{Blocks: blocks})
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgBlocks, Payload: data})
}

func (s *Syncer) handleBlocks(_ *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		if s.validator != nil {
			if err := s.validator.ValidateBlock(b); err != nil {
				log.Printf("[sync] block %d validation failed: %v", b.Header.BlockNum, err)
				continue // skip this block, try the rest
			}
		}

		if s.sink == nil {
			if err := s.bc.AddBlock(b); err != nil {
				log.Printf("[sync] block %d add failed: %v", b.Header.BlockNum, err)
			}
			continue
		}

		if err := s.sink.PushBlock(b); err != nil {
			log.Printf("[sync] block %d push failed: %v", b.Header.BlockNum, err)
			continue
		}
		if err := s.sink.Reconcile(b); err != nil {
			log.Printf("[sync] block %d reconcile failed: %v", b.Header.BlockNum, err)
		}
	}
}
