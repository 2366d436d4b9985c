package storage

import (
	"errors"
	"sort"
	"testing"
)

func TestPrefixDB_Namespaces(t *testing.T) {
	inner := NewMemory()
	ledger := NewPrefixDB(inner, []byte("ledger/"))
	wallet := NewPrefixDB(inner, []byte("wallet/"))

	ledger.Put([]byte("l/01"), []byte("entry"))
	wallet.Put([]byte("l/01"), []byte("other"))

	got, err := ledger.Get([]byte("l/01"))
	if err != nil || string(got) != "entry" {
		t.Fatalf("ledger.Get = %q, %v", got, err)
	}
	got, err = wallet.Get([]byte("l/01"))
	if err != nil || string(got) != "other" {
		t.Fatalf("wallet.Get = %q, %v", got, err)
	}

	if ok, _ := inner.Has([]byte("ledger/l/01")); !ok {
		t.Error("inner DB should hold the namespaced key")
	}

	ledger.Delete([]byte("l/01"))
	if ok, _ := ledger.Has([]byte("l/01")); ok {
		t.Error("Has after Delete = true")
	}
	if ok, _ := wallet.Has([]byte("l/01")); !ok {
		t.Error("delete leaked into another namespace")
	}
}

func TestPrefixDB_ForEachStripsNamespace(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("p2p/"))
	db.Put([]byte("peer/a"), []byte("1"))
	db.Put([]byte("peer/b"), []byte("2"))
	db.Put([]byte("ban/c"), []byte("3"))

	var keys []string
	err := db.ForEach([]byte("peer/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "peer/a" || keys[1] != "peer/b" {
		t.Fatalf("ForEach keys = %v, want [peer/a peer/b]", keys)
	}

	stop := errors.New("stop")
	calls := 0
	err = db.ForEach(nil, func(_, _ []byte) error {
		calls++
		return stop
	})
	if err != stop || calls != 1 {
		t.Fatalf("ForEach early stop: err=%v calls=%d", err, calls)
	}
}

func TestPrefixDB_Batch(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("ledger/"))
	db.Put([]byte("old"), []byte("x"))

	b := db.NewBatch()
	b.Put([]byte("new"), []byte("y"))
	b.Delete([]byte("old"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if ok, _ := inner.Has([]byte("ledger/new")); !ok {
		t.Error("batched put should be namespaced")
	}
	if ok, _ := db.Has([]byte("old")); ok {
		t.Error("batched delete not applied")
	}
}

func TestPrefixDB_DeleteAll(t *testing.T) {
	inner := NewMemory()
	a := NewPrefixDB(inner, []byte("a/"))
	b := NewPrefixDB(inner, []byte("b/"))
	a.Put([]byte("k1"), []byte("v"))
	a.Put([]byte("k2"), []byte("v"))
	b.Put([]byte("k1"), []byte("keep"))

	if err := a.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	n := 0
	a.ForEach(nil, func(_, _ []byte) error { n++; return nil })
	if n != 0 {
		t.Errorf("%d keys left in namespace", n)
	}
	if got, _ := b.Get([]byte("k1")); string(got) != "keep" {
		t.Error("DeleteAll touched another namespace")
	}

	if err := NewPrefixDB(inner, []byte("empty/")).DeleteAll(); err != nil {
		t.Errorf("DeleteAll on empty namespace: %v", err)
	}
}

func TestPrefixDB_CloseIsNoop(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("x/"))
	db.Put([]byte("key"), []byte("val"))
	db.Close()

	if got, err := inner.Get([]byte("x/key")); err != nil || string(got) != "val" {
		t.Fatalf("inner.Get after Close = %q, %v", got, err)
	}
}
