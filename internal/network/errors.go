package network

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrLoopStopped  = errors.New("event loop stopped")
	ErrListen       = errors.New("listen failed")
	ErrAnswered     = errors.New("file request already answered")
)

// PeerError is a failure talking to a single peer. It is logged and the
// operation is abandoned.
type PeerError struct {
	Peer peer.ID
	Op   string
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s with %s: %v", e.Op, e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}
