package transport

import (
	"context"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

// Peer exchanges framed messages over a single stream.
type Peer struct {
	codec  *protocol.Codec
	rwc    io.ReadWriteCloser
	id     peer.ID
	remote string
	mu     sync.Mutex
}

func NewPeer(s network.Stream) *Peer {
	p := NewPeerFromConn(s, s.Conn().RemotePeer().String())
	p.id = s.Conn().RemotePeer()
	return p
}

func NewPeerFromConn(rwc io.ReadWriteCloser, remote string) *Peer {
	return &Peer{
		codec:  protocol.NewCodec(),
		rwc:    rwc,
		remote: remote,
	}
}

// ID is the remote peer id, empty for peers not backed by a libp2p stream.
func (p *Peer) ID() peer.ID {
	return p.id
}

func (p *Peer) RemoteAddr() string {
	return p.remote
}

// Send writes msg. Cancelling ctx aborts the stream.
func (p *Peer) Send(ctx context.Context, msg protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stop := context.AfterFunc(ctx, p.abort)
	defer stop()

	if err := p.codec.Encode(p.rwc, msg); err != nil {
		return p.ctxErr(ctx, err)
	}
	return nil
}

// Receive reads the next message. Cancelling ctx aborts the stream.
func (p *Peer) Receive(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, p.abort)
	defer stop()

	msg, err := p.codec.Decode(p.rwc)
	if err != nil {
		return nil, p.ctxErr(ctx, err)
	}
	return msg, nil
}

func (p *Peer) Close() error {
	return p.rwc.Close()
}

func (p *Peer) abort() {
	if r, ok := p.rwc.(interface{ Reset() error }); ok {
		_ = r.Reset()
		return
	}
	_ = p.rwc.Close()
}

func (p *Peer) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
