package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ledgerforge/forgechain/core"
)

// PebbleDB implements DB using Pebble, the LSM-tree store CockroachDB ships
// as a successor to goleveldb; offered alongside LevelDB as an interchangeable
// backend behind the same DB interface.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebbleDB opens (or creates) a Pebble database at path.
func NewPebbleDB(path string) (*PebbleDB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", path, err)
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (p *PebbleDB) Set(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound
		}
	}
	return nil // prefix was all 0xff: unbounded above
}

type pebbleIterator struct {
	it  *pebble.Iterator
	hit bool
}

func (p *PebbleDB) NewIterator(prefix []byte) Iterator {
	it, _ := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	return &pebbleIterator{it: it}
}

func (it *pebbleIterator) Next() bool {
	if !it.hit {
		it.hit = true
		return it.it.First()
	}
	return it.it.Next()
}
func (it *pebbleIterator) Key() []byte   { return it.it.Key() }
func (it *pebbleIterator) Value() []byte { return it.it.Value() }
func (it *pebbleIterator) Release()      { it.it.Close() }
func (it *pebbleIterator) Error() error  { return it.it.Error() }

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{db: p.db, batch: p.db.NewBatch()}
}

func (b *pebbleBatch) Set(key, value []byte) { _ = b.batch.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte)      { _ = b.batch.Delete(key, nil) }
func (b *pebbleBatch) Write() error           { return b.db.Apply(b.batch, pebble.Sync) }
func (b *pebbleBatch) Reset()                 { b.batch.Reset() }

func (p *PebbleDB) Close() error { return p.db.Close() }

// ---- BlockStore implementation ----

// PebbleBlockStore implements core.BlockStore on top of Pebble.
type PebbleBlockStore struct {
	db *PebbleDB
}

// NewPebbleBlockStore wraps a PebbleDB instance as a BlockStore.
func NewPebbleBlockStore(db *PebbleDB) *PebbleBlockStore {
	return &PebbleBlockStore{db: db}
}

func (s *PebbleBlockStore) PutBlock(block *core.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	return s.db.Set([]byte("block:"+block.ID), data)
}

func (s *PebbleBlockStore) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte("block:" + hash))
	if err != nil {
		return nil, err
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PebbleBlockStore) PutBlockByHeight(height int64, hash string) error {
	return s.db.Set([]byte(fmt.Sprintf("height:%d", height)), []byte(hash))
}

func (s *PebbleBlockStore) GetBlockByHeight(height int64) (*core.Block, error) {
	hash, err := s.db.Get([]byte(fmt.Sprintf("height:%d", height)))
	if err != nil {
		return nil, err
	}
	return s.GetBlock(string(hash))
}

func (s *PebbleBlockStore) GetTip() (string, error) {
	val, err := s.db.Get([]byte("chain:tip"))
	if err == core.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (s *PebbleBlockStore) SetTip(hash string) error {
	return s.db.Set([]byte("chain:tip"), []byte(hash))
}

// CommitBlock writes the block, its height index entry, and the new tip
// pointer as a single Pebble batch.
func (s *PebbleBlockStore) CommitBlock(block *core.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	batch := s.db.db.NewBatch()
	if err := batch.Set([]byte("block:"+block.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set([]byte(fmt.Sprintf("height:%d", block.Header.BlockNum)), []byte(block.ID), nil); err != nil {
		return err
	}
	if err := batch.Set([]byte("chain:tip"), []byte(block.ID), nil); err != nil {
		return err
	}
	return s.db.db.Apply(batch, pebble.Sync)
}
