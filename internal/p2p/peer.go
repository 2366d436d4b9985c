package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string          // "dht", "mdns", "seed"
	CashKey     types.PublicKey // zero until the handshake completes
}

// directory maps cash public keys to the libp2p peers that proved them.
type directory struct {
	mu     sync.RWMutex
	byKey  map[types.PublicKey]peer.ID
	byPeer map[peer.ID]types.PublicKey
	added  chan struct{} // closed and replaced on every add
}

func newDirectory() *directory {
	return &directory{
		byKey:  make(map[types.PublicKey]peer.ID),
		byPeer: make(map[peer.ID]types.PublicKey),
		added:  make(chan struct{}),
	}
}

func (d *directory) add(key types.PublicKey, id peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byKey[key]; ok && old != id {
		delete(d.byPeer, old)
	}
	if old, ok := d.byPeer[id]; ok && old != key {
		delete(d.byKey, old)
	}
	d.byKey[key] = id
	d.byPeer[id] = key
	close(d.added)
	d.added = make(chan struct{})
}

// drop unbinds id and returns the key it had proven.
func (d *directory) drop(id peer.ID) (types.PublicKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.byPeer[id]
	if !ok {
		return types.PublicKey{}, false
	}
	delete(d.byPeer, id)
	if d.byKey[key] == id {
		delete(d.byKey, key)
	}
	return key, true
}

func (d *directory) peerOf(key types.PublicKey) (peer.ID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byKey[key]
	return id, ok
}

func (d *directory) keyOf(id peer.ID) (types.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.byPeer[id]
	return key, ok
}

func (d *directory) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byKey)
}

// waitKey returns the key of id, waiting up to timeout for a handshake
// still in flight.
func (d *directory) waitKey(ctx context.Context, id peer.ID, timeout time.Duration) (types.PublicKey, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		d.mu.RLock()
		key, ok := d.byPeer[id]
		added := d.added
		d.mu.RUnlock()
		if ok {
			return key, true
		}
		select {
		case <-added:
		case <-timer.C:
			return types.PublicKey{}, false
		case <-ctx.Done():
			return types.PublicKey{}, false
		}
	}
}
