package p2p

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

const (
	// handshakeTimeout is the max time for a complete handshake exchange.
	handshakeTimeout = 10 * time.Second

	// maxHandshakeBytes limits handshake message size.
	maxHandshakeBytes = 4096
)

var handshakeDomain = []byte("klingcash-handshake")

// HandshakeMessage is exchanged between peers to verify compatibility and
// bind a cash key to the sending peer ID.
type HandshakeMessage struct {
	ProtocolVersion     uint32          `json:"protocol_version"`
	NetworkID           string          `json:"network_id"`
	CashKey             types.PublicKey `json:"cash_key"`
	VerifierFingerprint types.Hash      `json:"verifier_fingerprint"`
	// Proof is CashKey's signature over the sender's own peer ID.
	Proof types.Signature `json:"proof"`
}

// HandshakeSigningBytes returns the bytes a node signs to prove it holds
// its cash key.
func HandshakeSigningBytes(id peer.ID, networkID string) []byte {
	h := crypto.Hash(append(append(append([]byte{}, handshakeDomain...), []byte(id)...), networkID...))
	return h[:]
}

// registerHandshakeHandler sets up the stream handler for incoming handshakes.
func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()

		remotePeer := stream.Conn().RemotePeer()
		_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))

		var peerMsg HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake read failed")
			return
		}

		// Bind before replying so the dialer can send blobs as soon as it
		// reads our answer.
		reason := n.validateHandshake(remotePeer, peerMsg)
		if reason == "" {
			n.bindPeer(remotePeer, peerMsg.CashKey)
		}

		ourMsg := n.buildHandshakeMessage()
		if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake write failed")
			return
		}

		if reason != "" {
			n.rejectHandshake(remotePeer, reason)
		}
	})
}

// doHandshake initiates a handshake with a remote peer (dialer side).
func (n *Node) doHandshake(peerID peer.ID) {
	stream, err := n.host.NewStream(n.ctx, peerID, HandshakeProtocol)
	if err != nil {
		// Without a bound key the peer can relay gossip but not receive blobs.
		n.logger.Debug().Str("peer", shortID(peerID)).Msg("Peer does not support handshake protocol")
		return
	}
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	ourMsg := n.buildHandshakeMessage()
	if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake send failed")
		return
	}
	stream.CloseWrite()

	var peerMsg HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake response read failed")
		return
	}

	if reason := n.validateHandshake(peerID, peerMsg); reason != "" {
		n.rejectHandshake(peerID, reason)
		return
	}
	n.bindPeer(peerID, peerMsg.CashKey)
}

func (n *Node) bindPeer(id peer.ID, key types.PublicKey) {
	n.dir.add(key, id)
	n.logger.Debug().
		Str("peer", shortID(id)).
		Str("key", crypto.Fingerprint(key).Short()).
		Msg("Peer handshake complete")
}

func (n *Node) rejectHandshake(id peer.ID, reason string) {
	n.logger.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Msg("Handshake rejected, banning peer")
	if n.BanManager != nil {
		n.BanManager.RecordOffense(id, PenaltyHandshakeFail, reason)
	}
	n.DisconnectPeer(id)
}

// validateHandshake checks a peer's handshake message for compatibility.
// Returns an empty string on success, or a reason string on failure.
func (n *Node) validateHandshake(from peer.ID, msg HandshakeMessage) string {
	if msg.NetworkID != n.config.NetworkID {
		return fmt.Sprintf("network mismatch: peer=%q local=%q", msg.NetworkID, n.config.NetworkID)
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d",
			msg.ProtocolVersion, MinProtocolVersion)
	}
	if want := crypto.Fingerprint(n.config.VerifierKey); msg.VerifierFingerprint != want {
		return fmt.Sprintf("verifier mismatch: peer=%s local=%s",
			msg.VerifierFingerprint.Short(), want.Short())
	}
	if !crypto.VerifySignature(msg.CashKey, msg.Proof, HandshakeSigningBytes(from, msg.NetworkID)) {
		return "invalid cash key proof"
	}
	if n.refused(msg.CashKey) {
		return "cash key blocked"
	}
	return ""
}

// buildHandshakeMessage constructs our handshake message from node state.
func (n *Node) buildHandshakeMessage() HandshakeMessage {
	msg := HandshakeMessage{
		ProtocolVersion:     ProtocolVersion,
		NetworkID:           n.config.NetworkID,
		VerifierFingerprint: crypto.Fingerprint(n.config.VerifierKey),
	}
	if n.config.Signer != nil {
		msg.CashKey = n.config.Signer.PublicKey()
		if n.host != nil {
			msg.Proof = n.config.Signer.Sign(HandshakeSigningBytes(n.host.ID(), n.config.NetworkID))
		}
	}
	return msg
}
