package p2p

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"

	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Blob stream: the sender writes len(uint32 LE) || blob and half-closes;
// the receiver answers one ack byte once the whole blob is in hand.
const (
	blobAccepted byte = 1
	blobRejected byte = 0

	// blobTimeout bounds a blob exchange when the caller sets no deadline.
	blobTimeout = 30 * time.Second
)

var _ transport.Transport = (*Node)(nil)

var (
	errBlobTooLarge = errors.New("blob too large")
	errBlobRejected = errors.New("blob rejected by peer")
)

// LocalKey returns the cash key blobs are addressed to.
func (n *Node) LocalKey() types.PublicKey {
	if n.config.Signer == nil {
		return types.PublicKey{}
	}
	return n.config.Signer.PublicKey()
}

// SetBlobHandler installs the callback for incoming blobs.
func (n *Node) SetBlobHandler(h transport.BlobHandler) {
	n.blobMu.Lock()
	n.blobHandler = h
	n.blobMu.Unlock()
}

// SendBlob delivers blob to the peer that owns key to. It returns once the
// remote side has acknowledged the complete blob. Any failure is a
// *transport.DeliveryError.
func (n *Node) SendBlob(ctx context.Context, to types.PublicKey, blob []byte) error {
	if n.host == nil {
		return &transport.DeliveryError{To: to, Err: transport.ErrOffline}
	}
	if len(blob) > maxBlobBytes {
		return &transport.DeliveryError{To: to, Err: errBlobTooLarge}
	}
	pid, ok := n.dir.peerOf(to)
	if !ok {
		return &transport.DeliveryError{To: to, Err: transport.ErrUnknownPeer}
	}
	n.ensureAddrs(ctx, pid)

	stream, err := n.host.NewStream(ctx, pid, BlobProtocol)
	if err != nil {
		return &transport.DeliveryError{To: to, Err: fmt.Errorf("open blob stream: %w", err)}
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(blobTimeout)
	}
	_ = stream.SetDeadline(deadline)

	if err := writeFrame(stream, blob); err != nil {
		stream.Reset()
		return &transport.DeliveryError{To: to, Err: fmt.Errorf("write blob: %w", err)}
	}
	stream.CloseWrite()

	var ack [1]byte
	if _, err := io.ReadFull(stream, ack[:]); err != nil {
		return &transport.DeliveryError{To: to, Err: fmt.Errorf("read ack: %w", err)}
	}
	if ack[0] != blobAccepted {
		return &transport.DeliveryError{To: to, Err: errBlobRejected}
	}
	return nil
}

// ensureAddrs looks up a peer we are not connected to in the DHT.
func (n *Node) ensureAddrs(ctx context.Context, id peer.ID) {
	if n.host.Network().Connectedness(id) == network.Connected {
		return
	}
	if len(n.host.Peerstore().Addrs(id)) > 0 || n.dht == nil {
		return
	}
	info, err := n.dht.FindPeer(ctx, id)
	if err != nil {
		n.logger.Debug().Str("peer", shortID(id)).Err(err).Msg("DHT lookup failed")
		return
	}
	n.host.Peerstore().AddAddrs(id, info.Addrs, peerstore.TempAddrTTL)
}

func (n *Node) registerBlobHandler() {
	n.host.SetStreamHandler(BlobProtocol, n.handleBlobStream)
}

func (n *Node) handleBlobStream(stream network.Stream) {
	defer stream.Close()
	remote := stream.Conn().RemotePeer()
	_ = stream.SetDeadline(time.Now().Add(blobTimeout))

	blob, err := readFrame(stream, maxBlobBytes)
	if err != nil {
		if errors.Is(err, errBlobTooLarge) {
			n.BanManager.RecordOffense(remote, PenaltyOversizedBlob, "oversized blob")
		}
		n.logger.Debug().Str("peer", shortID(remote)).Err(err).Msg("Blob read failed")
		stream.Reset()
		return
	}

	// The handshake runs concurrently with the first stream on a new
	// connection.
	from, ok := n.dir.waitKey(n.ctx, remote, handshakeTimeout)
	if !ok {
		n.BanManager.RecordOffense(remote, PenaltyUnknownSender, "blob without handshake")
		stream.Write([]byte{blobRejected})
		n.logger.Warn().Str("peer", shortID(remote)).Msg("Blob from peer without cash key")
		return
	}
	if _, err := stream.Write([]byte{blobAccepted}); err != nil {
		return
	}

	n.blobMu.RLock()
	handler := n.blobHandler
	n.blobMu.RUnlock()
	if handler == nil {
		return
	}

	transferID := transport.TransferID(blob)
	n.logger.Debug().
		Str("from", crypto.Fingerprint(from).Short()).
		Str("transfer", transferID).
		Int("bytes", len(blob)).
		Msg("Blob received")

	func() {
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error().Interface("panic", r).Str("transfer", transferID).Msg("Blob handler panicked")
			}
		}()
		handler(from, transferID, blob)
	}()
}

func writeFrame(w io.Writer, blob []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(blob)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(blob)
	return err
}

func readFrame(r io.Reader, limit int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if int64(size) > int64(limit) {
		return nil, fmt.Errorf("%w: %d bytes", errBlobTooLarge, size)
	}
	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return blob, nil
}
