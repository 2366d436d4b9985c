package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/internal/storage"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

var (
	prefixVerified   = []byte("wv/") // wv/<tokenID(8)> -> held JSON
	prefixUnverified = []byte("wu/") // wu/<tokenID(8)> -> held JSON
	prefixBlocked    = []byte("wb/") // wb/<pubkey(74)> -> empty
	prefixSpent      = []byte("ws/") // ws/<proof(64)> -> empty
)

// poolStore persists the wallet's pools, blocklist and spent proofs.
type poolStore struct {
	db storage.DB
}

func poolPrefix(p Pool) []byte {
	if p == Verified {
		return prefixVerified
	}
	return prefixUnverified
}

func poolKey(p Pool, id types.TokenID) []byte {
	return append(append([]byte{}, poolPrefix(p)...), id[:]...)
}

func spentKey(proof types.Signature) []byte {
	return append(append([]byte{}, prefixSpent...), proof[:]...)
}

// move writes h into pool p and removes it from the other pool in one batch,
// marking the proofs of any superseded copy as spent.
func (s *poolStore) move(p Pool, h *held, superseded ...types.Signature) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("pool marshal: %w", err)
	}
	b := s.db.NewBatch()
	b.Put(poolKey(p, h.Token.ID), data)
	b.Delete(poolKey(other(p), h.Token.ID))
	for _, proof := range superseded {
		b.Put(spentKey(proof), []byte{})
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("pool commit: %w", err)
	}
	return nil
}

// spend deletes ids from both pools and records the proofs they were
// held under, in one batch.
func (s *poolStore) spend(ids []types.TokenID, proofs []types.Signature) error {
	b := s.db.NewBatch()
	for _, id := range ids {
		b.Delete(poolKey(Verified, id))
		b.Delete(poolKey(Unverified, id))
	}
	for _, proof := range proofs {
		b.Put(spentKey(proof), []byte{})
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("pool commit: %w", err)
	}
	return nil
}

func (s *poolStore) load(p Pool, fn func(*held)) error {
	return s.db.ForEach(poolPrefix(p), func(_, value []byte) error {
		var h held
		if err := json.Unmarshal(value, &h); err != nil || h.Token == nil {
			return nil // Skip corrupt entries.
		}
		fn(&h)
		return nil
	})
}

func (s *poolStore) block(key types.PublicKey) error {
	return s.db.Put(append(append([]byte{}, prefixBlocked...), key[:]...), []byte{})
}

func (s *poolStore) loadBlocked(fn func(types.PublicKey)) error {
	return s.db.ForEach(prefixBlocked, func(key, _ []byte) error {
		if k, ok := types.PublicKeyFromBytes(key[len(prefixBlocked):]); ok {
			fn(k)
		}
		return nil
	})
}

func (s *poolStore) loadSpent(fn func(types.Signature)) error {
	return s.db.ForEach(prefixSpent, func(key, _ []byte) error {
		var proof types.Signature
		if copy(proof[:], key[len(prefixSpent):]) == types.SignatureSize {
			fn(proof)
		}
		return nil
	})
}
