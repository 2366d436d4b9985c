package transport

import (
	"context"
	"sync"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Hub is an in-process network of endpoints. Delivery happens on its own
// goroutine, like a real transport; Wait blocks until the network is
// quiet. Used by tests and the local simulator.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[types.PublicKey]*Endpoint
	offline   map[types.PublicKey]bool
	dropNext  map[types.PublicKey]int

	inflight sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[types.PublicKey]*Endpoint),
		offline:   make(map[types.PublicKey]bool),
		dropNext:  make(map[types.PublicKey]int),
	}
}

// Endpoint registers (or returns) the endpoint for key.
func (h *Hub) Endpoint(key types.PublicKey) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[key]; ok {
		return ep
	}
	ep := &Endpoint{hub: h, key: key}
	h.endpoints[key] = ep
	return ep
}

// SetOffline makes sends to and from key fail until cleared.
func (h *Hub) SetOffline(key types.PublicKey, offline bool) {
	h.mu.Lock()
	h.offline[key] = offline
	h.mu.Unlock()
}

// DropNext silently discards the next n blobs sent by key. The sender sees
// success.
func (h *Hub) DropNext(key types.PublicKey, n int) {
	h.mu.Lock()
	h.dropNext[key] = n
	h.mu.Unlock()
}

// Wait blocks until every delivery, including ones triggered by handlers,
// has finished.
func (h *Hub) Wait() {
	h.inflight.Wait()
}

func (h *Hub) send(from, to types.PublicKey, blob []byte) error {
	h.mu.Lock()
	if h.offline[from] || h.offline[to] {
		h.mu.Unlock()
		return &DeliveryError{To: to, Err: ErrOffline}
	}
	dst, ok := h.endpoints[to]
	if !ok {
		h.mu.Unlock()
		return &DeliveryError{To: to, Err: ErrUnknownPeer}
	}
	if h.dropNext[from] > 0 {
		h.dropNext[from]--
		h.mu.Unlock()
		return nil
	}
	h.inflight.Add(1)
	h.mu.Unlock()

	cp := append([]byte(nil), blob...)
	go func() {
		defer h.inflight.Done()
		dst.deliver(from, cp)
	}()
	return nil
}

// Endpoint is one party's attachment to a Hub. It implements Transport.
type Endpoint struct {
	hub *Hub
	key types.PublicKey

	mu      sync.RWMutex
	handler BlobHandler
}

// LocalKey returns the endpoint's address.
func (e *Endpoint) LocalKey() types.PublicKey {
	return e.key
}

// SendBlob hands blob to the hub for delivery.
func (e *Endpoint) SendBlob(ctx context.Context, to types.PublicKey, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{To: to, Err: err}
	}
	return e.hub.send(e.key, to, blob)
}

// SetBlobHandler installs the callback for incoming blobs.
func (e *Endpoint) SetBlobHandler(h BlobHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *Endpoint) deliver(from types.PublicKey, blob []byte) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h(from, TransferID(blob), blob)
	}
}
