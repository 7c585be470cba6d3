package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

const (
	connLowWater  = 32
	connHighWater = 128
	connGrace     = time.Minute

	// connection manager tag for peers that must stay connected for pub/sub
	explicitPeerTag = "swapbytes-explicit"
)

type stack struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
}

func newStack(ctx context.Context, opts Options, replica *roomReplica) (*stack, error) {
	cm, err := connmgr.NewConnManager(connLowWater, connHighWater, connmgr.WithGracePeriod(connGrace))
	if err != nil {
		return nil, fmt.Errorf("creating connection manager: %w", err)
	}

	var kad *dht.IpfsDHT
	h, err := libp2p.New(
		libp2p.Identity(opts.Identity),
		libp2p.NoListenAddrs,
		libp2p.ConnectionManager(cm),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			kad, err = dht.New(ctx, h,
				dht.Mode(dht.ModeServer),
				dht.ProtocolPrefix(p2pprotocol.ID(opts.DHTPrefix)),
				dht.BootstrapPeers(),
				dht.NamespacedValidator(protocol.UsernameNamespace, protocol.RecordValidator{
					Kind: protocol.RecordUsername,
				}),
				dht.NamespacedValidator(protocol.RoomsNamespace, protocol.RecordValidator{
					Kind:    protocol.RecordRoomList,
					Observe: replica.observe,
				}),
			)
			return kad, err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = kad.Close()
		_ = h.Close()
		return nil, fmt.Errorf("creating gossipsub: %w", err)
	}

	return &stack{host: h, dht: kad, pubsub: ps}, nil
}

// roomReplica is the newest room list this node has stored or validated.
type roomReplica struct {
	mu  sync.Mutex
	rec protocol.Record
	ok  bool
}

func (r *roomReplica) observe(_ string, rec protocol.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ok || rec.Version > r.rec.Version ||
		(rec.Version == r.rec.Version && len(rec.Rooms) > len(r.rec.Rooms)) {
		r.rec = rec
		r.ok = true
	}
}

func (r *roomReplica) get() (protocol.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec, r.ok
}
