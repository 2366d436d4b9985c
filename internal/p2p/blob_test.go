package p2p

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

func TestFrame_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	want := []byte("custody chain")
	if err := writeFrame(&buf, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if buf.Len() != 4+len(want) {
		t.Errorf("frame length = %d, want %d", buf.Len(), 4+len(want))
	}
	got, err := readFrame(&buf, 1024)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFrame_Errors(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, make([]byte, 100))
	if _, err := readFrame(&buf, 99); !errors.Is(err, errBlobTooLarge) {
		t.Errorf("oversized frame: err = %v, want errBlobTooLarge", err)
	}

	if _, err := readFrame(bytes.NewReader([]byte{10, 0, 0, 0, 1, 2}), 1024); err == nil {
		t.Error("truncated frame should fail")
	}
	if _, err := readFrame(bytes.NewReader([]byte{1}), 1024); err == nil {
		t.Error("truncated length should fail")
	}
}

func TestNode_SendBlob_Errors(t *testing.T) {
	key := newCashKey(t)
	to := newCashKey(t).PublicKey()

	n := New(cashConfig(key, types.PublicKey{}))
	err := n.SendBlob(context.Background(), to, []byte("x"))
	if !errors.Is(err, transport.ErrDeliveryFailure) || !errors.Is(err, transport.ErrOffline) {
		t.Errorf("not started: err = %v", err)
	}

	started := startNode(t, cashConfig(key, types.PublicKey{}))
	err = started.SendBlob(context.Background(), to, []byte("x"))
	if !errors.Is(err, transport.ErrUnknownPeer) {
		t.Errorf("unknown peer: err = %v", err)
	}
	var de *transport.DeliveryError
	if !errors.As(err, &de) || de.To != to {
		t.Errorf("error should name the recipient: %v", err)
	}

	err = started.SendBlob(context.Background(), to, make([]byte, maxBlobBytes+1))
	if !errors.Is(err, errBlobTooLarge) {
		t.Errorf("oversized: err = %v", err)
	}
	if started.LocalKey() != key.PublicKey() {
		t.Error("LocalKey should be the signer's key")
	}
}

type received struct {
	from       types.PublicKey
	transferID string
	blob       []byte
}

func TestTwoNodes_SendBlob(t *testing.T) {
	vkey := newCashKey(t)
	aKey, bKey := newCashKey(t), newCashKey(t)
	nodeA := startNode(t, cashConfig(aKey, vkey.PublicKey()))
	nodeB := startNode(t, cashConfig(bKey, vkey.PublicKey()))

	got := make(chan received, 1)
	nodeB.SetBlobHandler(func(from types.PublicKey, id string, blob []byte) {
		got <- received{from, id, blob}
	})

	connectNodes(t, nodeA, nodeB)
	waitFor(t, "handshake", func() bool {
		_, ok := nodeA.Lookup(bKey.PublicKey())
		return ok
	})

	blob := bytes.Repeat([]byte{0xab}, 4096)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := nodeA.SendBlob(ctx, bKey.PublicKey(), blob); err != nil {
		t.Fatalf("SendBlob: %v", err)
	}

	select {
	case r := <-got:
		if r.from != aKey.PublicKey() {
			t.Error("sender key not resolved from the handshake")
		}
		if r.transferID != transport.TransferID(blob) {
			t.Errorf("transfer id = %s", r.transferID)
		}
		if !bytes.Equal(r.blob, blob) {
			t.Error("blob corrupted in transit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blob not delivered")
	}
}

func TestTwoNodes_SendBlob_HandlerPanic(t *testing.T) {
	vkey := newCashKey(t)
	aKey, bKey := newCashKey(t), newCashKey(t)
	nodeA := startNode(t, cashConfig(aKey, vkey.PublicKey()))
	nodeB := startNode(t, cashConfig(bKey, vkey.PublicKey()))

	calls := make(chan struct{}, 2)
	nodeB.SetBlobHandler(func(types.PublicKey, string, []byte) {
		calls <- struct{}{}
		panic("boom")
	})
	connectNodes(t, nodeA, nodeB)
	waitFor(t, "handshake", func() bool {
		_, ok := nodeA.Lookup(bKey.PublicKey())
		return ok
	})

	for i := 0; i < 2; i++ {
		if err := nodeA.SendBlob(context.Background(), bKey.PublicKey(), []byte{byte(i)}); err != nil {
			t.Fatalf("SendBlob %d: %v", i, err)
		}
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("handler not called for blob %d", i)
		}
	}
}
