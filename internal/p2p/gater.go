package p2p

import (
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// keyGater refuses banned peers and peers whose known cash key is refused
// by the node's key filter. Keys persisted from an earlier run are known
// before the handshake, so a blocked wallet cannot come back under the
// same peer ID after a restart.
type keyGater struct {
	node *Node
}

func (g *keyGater) allow(p peer.ID) bool {
	if g.node.BanManager != nil && g.node.BanManager.IsBanned(p) {
		return false
	}
	if key, ok := g.node.dir.keyOf(p); ok && g.node.refused(key) {
		return false
	}
	return true
}

func (g *keyGater) InterceptPeerDial(p peer.ID) bool {
	return g.allow(p)
}

func (g *keyGater) InterceptAddrDial(peer.ID, ma.Multiaddr) bool {
	return true
}

// InterceptAccept runs before the remote identity is known.
func (g *keyGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

func (g *keyGater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return g.allow(p)
}

func (g *keyGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
