package network

import (
	"time"

	"github.com/libp2p/go-libp2p/core/event"
	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

type discoveryNotifee struct {
	loop *EventLoop
}

func (n *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	n.loop.post(peerDiscovered{info: info})
}

// watchHost forwards connection and address changes from the host event bus.
func (l *EventLoop) watchHost() error {
	sub, err := l.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerConnectednessChanged),
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtLocalAddressesUpdated),
	})
	if err != nil {
		return err
	}
	l.busSub = sub

	l.spawn(func() {
		for evt := range sub.Out() {
			var ev Event
			switch e := evt.(type) {
			case event.EvtPeerConnectednessChanged:
				switch e.Connectedness {
				case p2pnet.NotConnected:
					ev = connectionClosed{peer: e.Peer}
				case p2pnet.Connected:
					ev = peerConnected{peer: e.Peer}
				}
			case event.EvtPeerIdentificationCompleted:
				ev = peerIdentified{peer: e.Peer}
			case event.EvtLocalAddressesUpdated:
				addrs := make([]ma.Multiaddr, 0, len(e.Current))
				for _, a := range e.Current {
					addrs = append(addrs, a.Address)
				}
				ev = listenAddrsUpdated{addrs: addrs}
			}
			if ev != nil && !l.post(ev) {
				return
			}
		}
	})
	return nil
}

// handlePeerDiscovered registers a peer found on the local network: it is
// dialled, kept connected for pub/sub, added to the directory and given a
// direct-message topic. Repeat announcements only refresh its last-seen time.
func (l *EventLoop) handlePeerDiscovered(info peer.AddrInfo) {
	if info.ID == l.host.ID() {
		return
	}

	_, known := l.discovered[info.ID]
	l.discovered[info.ID] = time.Now()
	if known && l.dir.HasPeer(info.ID) {
		return
	}

	l.logger.Info("Peer discovered", "peer", info.ID.String(), "addrs", len(info.Addrs))

	l.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.AddressTTL)
	l.host.ConnManager().Protect(info.ID, explicitPeerTag)
	l.spawn(func() {
		if err := l.host.Connect(l.ctx, info); err != nil {
			l.logger.Warn("Failed to connect to peer", "peer", info.ID.String(), "error", err)
		}
	})

	l.dir.AddPeer(info.ID)
	if !known {
		count := l.dir.IncConnected()
		l.metrics.ConnectedPeers.Set(float64(count))
	}

	topic := protocol.DMTopic(l.host.ID().String(), info.ID.String())
	if err := l.subscribe(topic); err != nil {
		l.logger.Warn("Failed to join direct topic", "topic", topic, "error", err)
	}
	l.dir.InitPrivate(topic)
}

// handlePeerConnected re-adds a discovered peer whose connection came back.
func (l *EventLoop) handlePeerConnected(id peer.ID) {
	if _, ok := l.discovered[id]; !ok {
		return
	}
	if l.dir.AddPeer(id) {
		l.logger.Info("Peer reconnected", "peer", id.String())
	}
}

// handlePeerIdentified looks up the username of a directory peer once its
// protocols are known, which is when the DHT can route to it.
func (l *EventLoop) handlePeerIdentified(id peer.ID) {
	if !l.dir.HasPeer(id) {
		return
	}
	if _, ok := l.dir.Username(id); ok {
		return
	}
	l.getUsername(id)
}

func (l *EventLoop) handleConnectionClosed(id peer.ID) {
	if l.dir.RemovePeer(id) {
		l.logger.Info("Connection closed", "peer", id.String())
	}
}

func (l *EventLoop) handlePeerExpired(id peer.ID) {
	delete(l.discovered, id)
	l.host.ConnManager().Unprotect(id, explicitPeerTag)
	count := l.dir.DecConnected()
	l.metrics.ConnectedPeers.Set(float64(count))
	l.logger.Info("Peer expired", "peer", id.String())
}

// expireStale expires discovered peers that have not been announced within
// the discovery TTL and are no longer connected.
func (l *EventLoop) expireStale(now time.Time) {
	for id, seen := range l.discovered {
		if now.Sub(seen) < l.opts.DiscoveryTTL {
			continue
		}
		if l.host.Network().Connectedness(id) == p2pnet.Connected {
			continue
		}
		l.handlePeerExpired(id)
	}
}
