package p2p

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// HeartbeatMessage is a signed verifier liveness announcement. It also
// binds the verifier's cash key to its peer ID, so wallets that never
// connected to the verifier directly can still reach it.
type HeartbeatMessage struct {
	PubKey    types.PublicKey `json:"pubkey"`
	PeerID    string          `json:"peer_id"`
	Tokens    uint64          `json:"tokens"`    // ledger size
	Timestamp int64           `json:"timestamp"` // unix seconds
	Signature types.Signature `json:"signature"` // over BLAKE3(pubkey || peer_id || tokens_le8 || timestamp_le8)
}

// HeartbeatSigningBytes returns the bytes that are signed/verified for a heartbeat message.
func HeartbeatSigningBytes(pubKey types.PublicKey, peerID string, tokens uint64, timestamp int64) []byte {
	buf := make([]byte, 0, len(pubKey)+len(peerID)+16)
	buf = append(buf, pubKey[:]...)
	buf = append(buf, peerID...)
	buf = binary.LittleEndian.AppendUint64(buf, tokens)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(timestamp))
	h := crypto.Hash(buf)
	return h[:]
}

// VerifyHeartbeat checks that the heartbeat message is signed by its key.
func VerifyHeartbeat(msg *HeartbeatMessage) bool {
	if msg.PeerID == "" || msg.Signature.IsZero() {
		return false
	}
	data := HeartbeatSigningBytes(msg.PubKey, msg.PeerID, msg.Tokens, msg.Timestamp)
	return crypto.VerifySignature(msg.PubKey, msg.Signature, data)
}

// NewHeartbeat builds a heartbeat signed with the node's cash key.
func (n *Node) NewHeartbeat(tokens uint64) (*HeartbeatMessage, error) {
	if n.host == nil || n.config.Signer == nil {
		return nil, fmt.Errorf("p2p node not started")
	}
	msg := &HeartbeatMessage{
		PubKey:    n.config.Signer.PublicKey(),
		PeerID:    n.host.ID().String(),
		Tokens:    tokens,
		Timestamp: time.Now().Unix(),
	}
	msg.Signature = n.config.Signer.Sign(HeartbeatSigningBytes(msg.PubKey, msg.PeerID, msg.Tokens, msg.Timestamp))
	return msg, nil
}

// SetHeartbeatHandler registers a callback for verified incoming heartbeats.
func (n *Node) SetHeartbeatHandler(fn func(msg *HeartbeatMessage)) {
	n.heartbeatHandler = fn
}

// JoinHeartbeat joins the heartbeat GossipSub topic and starts reading.
func (n *Node) JoinHeartbeat() error {
	if n.pubsub == nil {
		return fmt.Errorf("p2p node not started")
	}
	if n.topicHeartbeat != nil {
		return nil // Already joined.
	}

	if err := n.pubsub.RegisterTopicValidator(TopicHeartbeat, n.validateHeartbeat); err != nil {
		return fmt.Errorf("register heartbeat validator: %w", err)
	}
	topic, err := n.pubsub.Join(TopicHeartbeat)
	if err != nil {
		n.pubsub.UnregisterTopicValidator(TopicHeartbeat)
		return fmt.Errorf("join heartbeat topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		n.pubsub.UnregisterTopicValidator(TopicHeartbeat)
		return fmt.Errorf("subscribe heartbeat topic: %w", err)
	}
	n.topicHeartbeat = topic
	n.subHeartbeat = sub

	go n.heartbeatReadLoop(sub)
	return nil
}

// LeaveHeartbeat unsubscribes from the heartbeat topic.
func (n *Node) LeaveHeartbeat() {
	if n.subHeartbeat != nil {
		n.subHeartbeat.Cancel()
		n.subHeartbeat = nil
	}
	if n.topicHeartbeat != nil {
		n.topicHeartbeat.Close()
		n.topicHeartbeat = nil
		n.pubsub.UnregisterTopicValidator(TopicHeartbeat)
	}
}

// BroadcastHeartbeat publishes a heartbeat message to the GossipSub topic.
func (n *Node) BroadcastHeartbeat(msg *HeartbeatMessage) error {
	if n.topicHeartbeat == nil {
		return fmt.Errorf("heartbeat topic not joined")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return n.topicHeartbeat.Publish(n.ctx, data)
}

// validateHeartbeat accepts heartbeats whose signature checks out and
// whose peer ID matches the message origin.
func (n *Node) validateHeartbeat(_ context.Context, from peer.ID, msg *pubsub.Message) bool {
	var hb HeartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil || !VerifyHeartbeat(&hb) || hb.PeerID != msg.GetFrom().String() {
		if from != n.host.ID() {
			n.BanManager.RecordOffense(from, PenaltyInvalidHeartbeat, "invalid heartbeat")
		}
		return false
	}
	return true
}

func (n *Node) heartbeatReadLoop(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled or subscription closed.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue // Skip own messages.
		}

		var hb HeartbeatMessage
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			continue
		}
		n.dir.add(hb.PubKey, msg.GetFrom())

		if n.heartbeatHandler != nil {
			func() {
				defer func() { recover() }()
				n.heartbeatHandler(&hb)
			}()
		}
	}
}
