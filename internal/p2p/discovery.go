package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// startMDNS announces the node on the local network under the network's
// rendezvous, so wallets on one LAN find each other and the verifier
// without seeds. mDNS failure is non-fatal.
func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &lanPeers{node: n})
	if err := svc.Start(); err != nil {
		n.logger.Debug().Err(err).Msg("mDNS unavailable")
	}
}

// lanPeers dials peers found over mDNS. The handshake started by the
// connection notifier decides whether they share our verifier.
type lanPeers struct {
	node *Node
}

func (l *lanPeers) HandlePeerFound(pi peer.AddrInfo) {
	n := l.node
	if pi.ID == n.host.ID() {
		return
	}
	if n.host.Network().Connectedness(pi.ID) == network.Connected {
		return
	}
	if n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers {
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(pi.ID)).Msg("LAN peer unreachable")
		return
	}
	n.addPeer(pi.ID)
	n.setSource(pi.ID, "mdns")
}
