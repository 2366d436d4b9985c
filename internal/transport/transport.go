// Package transport defines how custody-chain blobs move between parties.
// Delivery is best effort: a blob arrives whole or not at all, with no
// ordering guarantee and no retries.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Transport errors.
var (
	ErrDeliveryFailure = errors.New("delivery failure")
	ErrUnknownPeer     = errors.New("no route to peer")
	ErrOffline         = errors.New("peer offline")
)

// BlobHandler receives a whole blob together with the sender's key and an
// identifier for the transfer.
type BlobHandler func(from types.PublicKey, transferID string, blob []byte)

// Transport sends opaque blobs to parties addressed by public key.
type Transport interface {
	// LocalKey is the key other parties use to address this endpoint.
	LocalKey() types.PublicKey
	// SendBlob delivers blob to the party holding key to. A nil error means
	// the blob was handed off; it does not mean it was processed.
	SendBlob(ctx context.Context, to types.PublicKey, blob []byte) error
	// SetBlobHandler installs the callback for incoming blobs.
	SetBlobHandler(h BlobHandler)
}

// DeliveryError wraps a failed send. errors.Is matches ErrDeliveryFailure.
type DeliveryError struct {
	To  types.PublicKey
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", crypto.Fingerprint(e.To).Short(), e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is reports a match for ErrDeliveryFailure.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailure
}

// TransferID names a blob for logs and deduplication.
func TransferID(blob []byte) string {
	return crypto.Hash(blob).Short()
}
