package p2p

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// ErrNotVerifier is returned when a node that does not hold the trusted
// verifier key tries to publish an alert.
var ErrNotVerifier = errors.New("only the verifier publishes alerts")

// AlertMessage announces a detected double spend. It is signed by the
// verifier; peers drop alerts from any other key.
type AlertMessage struct {
	TokenID    types.TokenID   `json:"token_id"`
	Offender   types.PublicKey `json:"offender"`
	DivergeAt  uint32          `json:"diverge_at"`
	DetectedAt int64           `json:"detected_at"`
	Verifier   types.PublicKey `json:"verifier"`
	Signature  types.Signature `json:"signature"`
}

// AlertSigningBytes returns the digest the verifier signs for an alert.
func AlertSigningBytes(m *AlertMessage) []byte {
	buf := make([]byte, 0, len(m.TokenID)+len(m.Offender)+4+8)
	buf = append(buf, m.TokenID[:]...)
	buf = append(buf, m.Offender[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, m.DivergeAt)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.DetectedAt))
	h := crypto.Hash(buf)
	return h[:]
}

// VerifyAlert reports whether m is signed by verifier.
func VerifyAlert(m *AlertMessage, verifier types.PublicKey) bool {
	if m.Verifier != verifier {
		return false
	}
	return crypto.VerifySignature(verifier, m.Signature, AlertSigningBytes(m))
}

// SetAlertHandler registers a callback for verified incoming alerts.
func (n *Node) SetAlertHandler(fn func(*AlertMessage)) {
	n.alertHandler = fn
}

// PublishOffense signs and broadcasts an offense. Only the verifier's node
// can publish.
func (n *Node) PublishOffense(ctx context.Context, o *ledger.Offense) error {
	if n.topicAlert == nil {
		return fmt.Errorf("p2p node not started")
	}
	if n.config.Signer == nil || n.config.Signer.PublicKey() != n.config.VerifierKey {
		return ErrNotVerifier
	}
	msg := &AlertMessage{
		TokenID:    o.TokenID,
		Offender:   o.Offender,
		DivergeAt:  uint32(o.DivergeAt),
		DetectedAt: o.DetectedAt,
		Verifier:   n.config.VerifierKey,
	}
	msg.Signature = n.config.Signer.Sign(AlertSigningBytes(msg))

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.topicAlert.Publish(ctx, data)
}

func (n *Node) joinAlerts() error {
	if err := n.pubsub.RegisterTopicValidator(TopicAlerts, n.validateAlert); err != nil {
		return fmt.Errorf("register alert validator: %w", err)
	}
	var err error
	n.topicAlert, err = n.pubsub.Join(TopicAlerts)
	if err != nil {
		return fmt.Errorf("join alert topic: %w", err)
	}
	n.subAlert, err = n.topicAlert.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe alerts: %w", err)
	}
	return nil
}

// validateAlert stops forged alerts from propagating through the mesh.
func (n *Node) validateAlert(_ context.Context, from peer.ID, msg *pubsub.Message) bool {
	var alert AlertMessage
	if err := json.Unmarshal(msg.Data, &alert); err != nil || !VerifyAlert(&alert, n.config.VerifierKey) {
		if from != n.host.ID() {
			n.BanManager.RecordOffense(from, PenaltyInvalidAlert, "invalid alert")
		}
		return false
	}
	return true
}

func (n *Node) handleAlertMessage(msg *pubsub.Message) {
	defer func() { recover() }()

	var alert AlertMessage
	if err := json.Unmarshal(msg.Data, &alert); err != nil {
		return
	}
	n.logger.Warn().
		Str("token", alert.TokenID.String()).
		Str("offender", crypto.Fingerprint(alert.Offender).Short()).
		Msg("Double-spend alert")
	if n.alertHandler != nil {
		n.alertHandler(&alert)
	}
}
