package p2p

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
)

// connNotifier keeps the peer list and the cash key directory in step with
// live connections. A cash key is addressable only while the peer that
// proved it stays connected.
type connNotifier struct {
	node *Node
}

// Connected tracks the peer and, for connections we dialed, starts the
// handshake that binds its cash key. Inbound peers dial the handshake
// themselves.
func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	n := cn.node
	remote := conn.RemotePeer()
	if remote == n.host.ID() {
		return
	}
	n.addPeer(remote)
	if fn := n.onPeerConnected; fn != nil {
		go fn()
	}
	if n.handshakeEnabled && conn.Stat().Direction == network.DirOutbound {
		go n.doHandshake(remote)
	}
}

// Disconnected unbinds the peer's cash key once its last connection closes.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) > 0 {
		return
	}
	key, bound := cn.node.removePeer(remote)
	if !bound {
		return
	}
	cn.node.logger.Debug().
		Str("peer", shortID(remote)).
		Str("key", crypto.Fingerprint(key).Short()).
		Msg("Cash key unbound")
}

func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr)      {}
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}
