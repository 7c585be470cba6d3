package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rudransh-shrivastava/swapbytes/internal/db"
	"github.com/rudransh-shrivastava/swapbytes/internal/exchange"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
	"github.com/rudransh-shrivastava/swapbytes/internal/transport"
)

// responseChannel answers one inbound file request on the stream it arrived
// on.
type responseChannel struct {
	peer *transport.Peer
	once sync.Once
}

func (r *responseChannel) Peer() peer.ID {
	return r.peer.ID()
}

func (r *responseChannel) send(ctx context.Context, res *protocol.FileResponse) error {
	err := ErrAnswered
	r.once.Do(func() {
		err = r.peer.Send(ctx, res)
		_ = r.peer.Close()
	})
	return err
}

var _ state.ResponseChannel = (*responseChannel)(nil)

// serveFileExchange reads the request on an inbound stream and queues it for
// the user. The stream stays open until the request is answered.
func (l *EventLoop) serveFileExchange(p *transport.Peer) {
	msg, err := p.Receive(l.ctx)
	if err != nil {
		_ = p.Close()
		l.post(fileExchangeFailure{err: &PeerError{Peer: p.ID(), Op: "read request", Err: err}})
		return
	}

	req, ok := msg.(*protocol.FileRequest)
	if !ok {
		_ = p.Close()
		l.post(fileExchangeFailure{err: &PeerError{
			Peer: p.ID(),
			Op:   "read request",
			Err:  fmt.Errorf("%w: unexpected %s", protocol.ErrUnknownMessage, msg.Type()),
		}})
		return
	}

	if !l.post(inboundFileRequest{peer: p.ID(), name: req.Name, reply: &responseChannel{peer: p}}) {
		_ = p.Close()
	}
}

func (l *EventLoop) handleInboundFileRequest(e inboundFileRequest) {
	req := state.FileRequest{
		ID:       uuid.New(),
		Peer:     e.peer,
		Resource: e.name,
		Reply:    e.reply,
	}
	l.dir.PushFileRequest(req)
	l.logger.Info("File requested", "peer", e.peer.String(), "resource", e.name, "request_id", req.ID.String())
}

// sendFileRequest asks id for resource on a helper goroutine.
func (l *EventLoop) sendFileRequest(resource string, id peer.ID) {
	l.spawn(func() {
		res, err := l.requestFile(resource, id)
		if err != nil {
			l.post(fileExchangeFailure{err: err})
			return
		}
		l.post(inboundFileResponse{peer: id, resource: resource, response: res})
	})
	l.logger.Info("Requesting file", "peer", id.String(), "resource", resource)
}

func (l *EventLoop) requestFile(resource string, id peer.ID) (*protocol.FileResponse, error) {
	p, err := transport.Dial(l.ctx, l.host, id, p2pprotocol.ID(protocol.FileExchangeProtocol))
	if err != nil {
		return nil, &PeerError{Peer: id, Op: "open stream", Err: err}
	}
	defer func() { _ = p.Close() }()

	if err := p.Send(l.ctx, &protocol.FileRequest{Name: resource}); err != nil {
		return nil, &PeerError{Peer: id, Op: "send request", Err: err}
	}

	msg, err := p.Receive(l.ctx)
	if err != nil {
		return nil, &PeerError{Peer: id, Op: "read response", Err: err}
	}
	res, ok := msg.(*protocol.FileResponse)
	if !ok {
		return nil, &PeerError{
			Peer: id,
			Op:   "read response",
			Err:  fmt.Errorf("%w: unexpected %s", protocol.ErrUnknownMessage, msg.Type()),
		}
	}
	return res, nil
}

// sendFileResponse answers a pending request with the contents of resource.
// Unreadable resources are answered with an empty payload.
func (l *EventLoop) sendFileResponse(resource string, reply state.ResponseChannel) {
	rc, ok := reply.(*responseChannel)
	if !ok {
		l.logger.Error("File response without a usable reply channel", "resource", resource)
		return
	}

	data := l.files.ReadOrEmpty(resource)
	id := rc.Peer()
	l.spawn(func() {
		err := rc.send(l.ctx, &protocol.FileResponse{Name: resource, Data: data})
		l.post(responseSent{peer: id, resource: resource, size: len(data), err: err})
	})
}

func (l *EventLoop) handleResponseSent(e responseSent) {
	if errors.Is(e.err, protocol.ErrFrameTooLarge) {
		l.logger.Error("File too large to send", "peer", e.peer.String(), "resource", e.resource,
			"size", e.size, "max_size", protocol.MaxFrameSize)
		return
	}
	if e.err != nil {
		l.logger.Warn("Failed to send file", "peer", e.peer.String(), "resource", e.resource, "error", e.err)
		return
	}
	l.logger.Info("File sent", "peer", e.peer.String(), "resource", e.resource, "size", e.size)
	l.metrics.Transfers.WithLabelValues(db.DirectionSent).Inc()
	l.recordTransfer(db.Transfer{
		Direction: db.DirectionSent,
		PeerID:    e.peer.String(),
		Resource:  e.resource,
		Path:      l.files.Resolve(e.resource),
		Size:      e.size,
	})
}

// handleInboundFileResponse saves a received file as new_<name>.
func (l *EventLoop) handleInboundFileResponse(e inboundFileResponse) {
	name := e.response.Name
	if name == "" {
		name = e.resource
	}

	path, err := l.files.SaveReceived(name, e.response.Data)
	if err != nil {
		l.logger.Error("Failed to save received file", "peer", e.peer.String(), "resource", name, "error", err)
		return
	}
	l.logger.Info("File received", "peer", e.peer.String(), "resource", name, "path", path, "size", len(e.response.Data))
	l.metrics.Transfers.WithLabelValues(db.DirectionReceived).Inc()
	l.recordTransfer(db.Transfer{
		Direction: db.DirectionReceived,
		PeerID:    e.peer.String(),
		Resource:  name,
		Path:      path,
		Size:      len(e.response.Data),
		Checksum:  exchange.HashBytes(e.response.Data),
	})
}

func (l *EventLoop) recordTransfer(t db.Transfer) {
	if l.transfers == nil {
		return
	}
	if _, err := l.transfers.RecordTransfer(l.ctx, t); err != nil {
		l.logger.Warn("Failed to record transfer", "resource", t.Resource, "error", err)
	}
}
