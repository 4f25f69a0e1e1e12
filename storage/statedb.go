package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

// The prefixes below mirror every object-database index onto its own key
// prefix (C1-C3), replacing the old per-type (account/asset/template/...)
// prefix set from the single-ledger model.
var (
	prefixKey                 = registerPrefix("key:")
	prefixAccount             = registerPrefix("acct:")
	prefixAccountBalance      = registerPrefix("bal:")
	prefixAsset               = registerPrefix("asset:")
	prefixDynamicAssetData    = registerPrefix("dyn:")
	prefixBitassetData        = registerPrefix("bit:")
	prefixDelegate            = registerPrefix("delegate:")
	prefixWitness             = registerPrefix("witness:")
	prefixLimitOrder          = registerPrefix("limit:")
	prefixShortOrder          = registerPrefix("short:")
	prefixCallOrder           = registerPrefix("call:")
	prefixForceSettlement     = registerPrefix("settle:")
	prefixProposal            = registerPrefix("proposal:")
	prefixWithdrawPermission  = registerPrefix("withdraw:")
	prefixVestingBalance      = registerPrefix("vesting:")
	prefixWorker              = registerPrefix("worker:")
	prefixGlobalProperty      = registerPrefix("global:")
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB is the durable key-value mirror of a Chain's objdb.Database: every
// index is wired (via Attach) to write its objects here as they're
// created/modified/removed, so the in-memory undo-session model (C1-C3)
// stays purely in-process while this layer survives a restart. Snapshot and
// RevertToSnapshot give callers a coarser rollback than objdb's own
// sessions — useful around a batch of index subscriptions reacting to a
// single undo-session commit that itself might still roll back.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) putObject(prefix string, id objdb.ID, obj objdb.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	s.set(prefix+id.String(), data)
	return nil
}

// Attach wires every index in chain to mirror its mutations into s, keyed
// by the index's assigned prefix. Call once, right after core.NewChain, so
// every subsequent Create/Modify/Remove is persisted.
func Attach(s *StateDB, chain *core.Chain) {
	mirror := func(ix *objdb.Index, prefix string) {
		ix.Subscribe(func(kind string, obj objdb.Object) {
			switch kind {
			case "create", "modify":
				_ = s.putObject(prefix, obj.ObjID(), obj)
			case "remove":
				s.del(prefix + obj.ObjID().String())
			}
		})
	}
	mirror(chain.Keys, prefixKey)
	mirror(chain.Accounts, prefixAccount)
	mirror(chain.AccountBalances, prefixAccountBalance)
	mirror(chain.Assets, prefixAsset)
	mirror(chain.DynamicAssetDatas, prefixDynamicAssetData)
	mirror(chain.BitassetDatas, prefixBitassetData)
	mirror(chain.Delegates, prefixDelegate)
	mirror(chain.Witnesses, prefixWitness)
	mirror(chain.LimitOrders, prefixLimitOrder)
	mirror(chain.ShortOrders, prefixShortOrder)
	mirror(chain.CallOrders, prefixCallOrder)
	mirror(chain.ForceSettlements, prefixForceSettlement)
	mirror(chain.Proposals, prefixProposal)
	mirror(chain.WithdrawPermissions, prefixWithdrawPermission)
	mirror(chain.VestingBalances, prefixVestingBalance)
	mirror(chain.Workers, prefixWorker)
	mirror(chain.GlobalProperties, prefixGlobalProperty)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete persisted
// world state. It merges all persisted state entries (scanned from DB by
// the known index prefixes) with the current write buffer, then hashes the
// sorted key-value pairs using length-prefix encoding. It does NOT flush or
// modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
