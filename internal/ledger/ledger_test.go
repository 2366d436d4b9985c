package ledger

import (
	"errors"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-cash/internal/storage"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func mintEntry(t *testing.T, id byte) (*Entry, *crypto.PrivateKey) {
	t.Helper()
	v := newKey(t)
	holder := newKey(t)
	tok := token.Mint(types.TokenID{id}, token.DefaultValue, v, holder.PublicKey())
	return NewEntry(tok, 1), v
}

func TestLedger_InsertGet(t *testing.T) {
	l := New(storage.NewMemory(), DefaultRetain)
	e, _ := mintEntry(t, 1)

	if err := l.Insert(e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := l.Insert(e); !errors.Is(err, ErrExists) {
		t.Errorf("second Insert = %v, want ErrExists", err)
	}
	if !l.Has(e.ID) || l.Len() != 1 {
		t.Error("ledger should hold one entry")
	}

	got, err := l.Get(e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastProof() != e.LastProof() {
		t.Error("Get returned a different entry")
	}

	// The copy handed out must not alias ledger state.
	got.Chain[0].Proof = types.Signature{}
	again, _ := l.Get(e.ID)
	if again.LastProof() != e.LastProof() {
		t.Error("Get should return a copy")
	}

	if _, err := l.Get(types.TokenID{9}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestLedger_UpdateAllOrNothing(t *testing.T) {
	l := New(storage.NewMemory(), DefaultRetain)
	e, _ := mintEntry(t, 1)
	l.Insert(e)

	boom := errors.New("boom")
	err := l.Update(e.ID, func(cp *Entry) error {
		cp.Value = 7
		cp.Chain = nil
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update = %v, want boom", err)
	}
	got, _ := l.Get(e.ID)
	if got.Value != token.DefaultValue || len(got.Chain) != 1 {
		t.Error("failed update must leave the entry untouched")
	}

	err = l.Update(e.ID, func(cp *Entry) error {
		cp.Checkpoints = 3
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = l.Get(e.ID)
	if got.Checkpoints != 3 {
		t.Error("successful update not applied")
	}

	if err := l.Update(types.TokenID{9}, func(*Entry) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(unknown) = %v, want ErrNotFound", err)
	}
}

func TestLedger_Persistence(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	l := New(db, DefaultRetain)
	e, _ := mintEntry(t, 4)
	l.Insert(e)
	l.Update(e.ID, func(cp *Entry) error {
		cp.Checkpoints = 2
		return nil
	})
	db.Close()

	db2, err := storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	l2 := New(db2, DefaultRetain)
	n, err := l2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 1 {
		t.Fatalf("Load() = %d entries, want 1", n)
	}
	got, err := l2.Get(e.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Checkpoints != 2 || got.LastProof() != e.LastProof() {
		t.Error("reloaded entry differs")
	}
}

// Concurrent updates to one entry are serialized: every increment lands.
func TestLedger_UpdateSerialized(t *testing.T) {
	l := New(storage.NewMemory(), DefaultRetain)
	e, _ := mintEntry(t, 1)
	l.Insert(e)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Update(e.ID, func(cp *Entry) error {
				cp.Checkpoints++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := l.Get(e.ID)
	if got.Checkpoints != 50 {
		t.Errorf("Checkpoints = %d, want 50", got.Checkpoints)
	}
}

func TestEntry_Checkpoint(t *testing.T) {
	v := newKey(t)
	a, b := newKey(t), newKey(t)
	tok := token.Mint(types.TokenID{1}, token.DefaultValue, v, a.PublicKey())
	e := NewEntry(tok, 1)

	spent := token.Extend(tok, b.PublicKey(), a)
	fresh := token.Checkpoint(spent, v, spent.LastProof(), b.PublicKey())

	e.Checkpoint(spent.Chain[1:], fresh.Chain[0], 0, 2)

	if e.Anchor != spent.LastProof() {
		t.Error("anchor should be the last archived proof")
	}
	if len(e.Chain) != 1 || e.Chain[0] != fresh.Chain[0] {
		t.Error("current segment should be the checkpoint link only")
	}
	if len(e.Archive) != 1 || len(e.Archive[0]) != 2 {
		t.Fatalf("archive = %v, want one segment of 2 links", e.Archive)
	}
	if h := e.History(); len(h) != 3 || h[2] != fresh.Chain[0] {
		t.Errorf("History() length = %d, want 3 ending in the checkpoint", len(h))
	}
	if e.Checkpoints != 1 || e.UpdatedAt != 2 {
		t.Error("checkpoint counters not updated")
	}

	canon := e.Token(v.PublicKey())
	if err := token.VerifyChain(canon); err != nil {
		t.Errorf("canonical token should verify: %v", err)
	}
}

func TestEntry_CheckpointRetain(t *testing.T) {
	e, v := mintEntry(t, 1)
	holder := e.Chain[0].Recipient

	for i := 0; i < 5; i++ {
		tok := &token.Token{ID: e.ID, Value: e.Value}
		link := token.Checkpoint(tok, v, e.LastProof(), holder).Chain[0]
		e.Checkpoint(nil, link, 2, int64(i))
	}
	if len(e.Archive) != 2 {
		t.Errorf("archive holds %d segments, want 2", len(e.Archive))
	}
	if e.Checkpoints != 5 {
		t.Errorf("Checkpoints = %d, want 5", e.Checkpoints)
	}
}

func TestLedger_Offenses(t *testing.T) {
	l := New(storage.NewMemory(), DefaultRetain)
	a, b := newKey(t), newKey(t)

	l.RecordOffense(&Offense{TokenID: types.TokenID{1}, Offender: a.PublicKey(), DetectedAt: 1})
	l.RecordOffense(&Offense{TokenID: types.TokenID{2}, Offender: a.PublicKey(), DetectedAt: 2})
	l.RecordOffense(&Offense{TokenID: types.TokenID{1}, Offender: b.PublicKey(), DetectedAt: 3})

	list, err := l.Offenses()
	if err != nil {
		t.Fatalf("Offenses: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Offenses() = %d, want 3", len(list))
	}
	counts, _ := l.Offenders()
	if counts[a.PublicKey()] != 2 || counts[b.PublicKey()] != 1 {
		t.Errorf("Offenders() = %v", counts)
	}
}
