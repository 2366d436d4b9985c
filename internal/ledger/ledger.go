// Package ledger keeps the verifier's canonical custody history for every
// token it minted.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-cash/internal/storage"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

var prefixEntry = []byte("l/") // l/<tokenID(8)> -> Entry JSON

// Ledger errors.
var (
	ErrNotFound = errors.New("token not in ledger")
	ErrExists   = errors.New("token already in ledger")
)

// DefaultRetain is the number of archived segments kept per token.
const DefaultRetain = 64

// Ledger maps token IDs to entries. Each entry has its own lock, so
// updates to different tokens run in parallel while updates to the same
// token are serialized.
type Ledger struct {
	db     storage.DB
	retain int

	mu      sync.RWMutex
	entries map[types.TokenID]*slot
}

type slot struct {
	mu    sync.Mutex
	entry *Entry
}

// New creates a ledger backed by db. retain bounds archived segments per
// token (0 = unbounded).
func New(db storage.DB, retain int) *Ledger {
	return &Ledger{
		db:      db,
		retain:  retain,
		entries: make(map[types.TokenID]*slot),
	}
}

// Retain returns the configured archive bound.
func (l *Ledger) Retain() int {
	return l.retain
}

// Load rebuilds the in-memory index from the database. Entries that fail to
// decode are skipped.
func (l *Ledger) Load() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	err := l.db.ForEach(prefixEntry, func(_, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return nil
		}
		l.entries[e.ID] = &slot{entry: &e}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("ledger load: %w", err)
	}
	return n, nil
}

// Insert adds the entry for a newly minted token.
func (l *Ledger) Insert(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	cp := e.Clone()
	if err := l.persist(cp); err != nil {
		return err
	}
	l.entries[e.ID] = &slot{entry: cp}
	return nil
}

// Has reports whether id is in the ledger.
func (l *Ledger) Has(id types.TokenID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// Get returns a copy of the entry for id.
func (l *Ledger) Get(id types.TokenID) (*Entry, error) {
	s := l.slot(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.Clone(), nil
}

// Update runs fn on a copy of the entry while holding the entry's lock.
// If fn returns nil the copy is persisted and becomes the entry; otherwise
// nothing changes and fn's error is returned.
func (l *Ledger) Update(id types.TokenID, fn func(e *Entry) error) error {
	s := l.slot(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.entry.Clone()
	if err := fn(cp); err != nil {
		return err
	}
	if err := l.persist(cp); err != nil {
		return err
	}
	s.entry = cp
	return nil
}

// Len returns the number of tokens in the ledger.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// IDs returns every token ID in the ledger, in no particular order.
func (l *Ledger) IDs() []types.TokenID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]types.TokenID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	return ids
}

func (l *Ledger) slot(id types.TokenID) *slot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[id]
}

func (l *Ledger) persist(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger marshal: %w", err)
	}
	batch := l.db.NewBatch()
	if err := batch.Put(entryKey(e.ID), data); err != nil {
		return fmt.Errorf("ledger put: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	return nil
}

func entryKey(id types.TokenID) []byte {
	return append(append([]byte{}, prefixEntry...), id[:]...)
}
