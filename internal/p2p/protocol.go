package p2p

import (
	"github.com/libp2p/go-libp2p/core/protocol"
)

// GossipSub topic names.
const (
	TopicAlerts    = "/klingcash/alert/1.0.0"
	TopicHeartbeat = "/klingcash/heartbeat/1.0.0"
)

// Stream protocols.
const (
	// HandshakeProtocol exchanges cash keys and checks peer compatibility.
	HandshakeProtocol = protocol.ID("/klingcash/handshake/1.0.0")

	// BlobProtocol carries one transport blob per stream.
	BlobProtocol = protocol.ID("/klingcash/blob/1.0.0")

	// ProtocolVersion is the current protocol version advertised during handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum protocol version we accept from peers.
	MinProtocolVersion uint32 = 1
)

// Size limits.
const (
	// maxBlobBytes bounds a single transport blob.
	maxBlobBytes = 32 << 20

	// maxGossipBytes bounds alert and heartbeat messages.
	maxGossipBytes = 64 << 10
)
