package transport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
)

type Handler func(*Peer)

// Listen serves inbound streams for proto.
func Listen(h host.Host, proto p2pprotocol.ID, handler Handler) {
	h.SetStreamHandler(proto, func(s network.Stream) {
		handler(NewPeer(s))
	})
}

func Unlisten(h host.Host, proto p2pprotocol.ID) {
	h.RemoveStreamHandler(proto)
}

// Dial opens a new stream for proto to id.
func Dial(ctx context.Context, h host.Host, id peer.ID, proto p2pprotocol.ID) (*Peer, error) {
	s, err := h.NewStream(ctx, id, proto)
	if err != nil {
		return nil, fmt.Errorf("opening %s stream to %s: %w", proto, id, err)
	}
	return NewPeer(s), nil
}
