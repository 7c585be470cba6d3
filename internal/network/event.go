package network

import (
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

// Event is something the protocol stack reported to the event loop.
type Event interface {
	Kind() string
}

type peerDiscovered struct {
	info peer.AddrInfo
}

type peerConnected struct {
	peer peer.ID
}

type peerIdentified struct {
	peer peer.ID
}

type connectionClosed struct {
	peer peer.ID
}

type listenAddrsUpdated struct {
	addrs []ma.Multiaddr
}

type messageReceived struct {
	topic string
	from  peer.ID
	data  []byte
}

type queryCompleted struct {
	key   string
	value []byte
	err   error
}

type recordStored struct {
	key string
	err error
}

type inboundFileRequest struct {
	peer  peer.ID
	name  string
	reply *responseChannel
}

type inboundFileResponse struct {
	peer     peer.ID
	resource string
	response *protocol.FileResponse
}

type responseSent struct {
	peer     peer.ID
	resource string
	size     int
	err      error
}

type fileExchangeFailure struct {
	err error
}

func (peerDiscovered) Kind() string      { return "peer_discovered" }
func (peerConnected) Kind() string       { return "peer_connected" }
func (peerIdentified) Kind() string      { return "peer_identified" }
func (connectionClosed) Kind() string    { return "connection_closed" }
func (listenAddrsUpdated) Kind() string  { return "listen_addrs_updated" }
func (messageReceived) Kind() string     { return "message_received" }
func (queryCompleted) Kind() string      { return "query_completed" }
func (recordStored) Kind() string        { return "record_stored" }
func (inboundFileRequest) Kind() string  { return "inbound_file_request" }
func (inboundFileResponse) Kind() string { return "inbound_file_response" }
func (responseSent) Kind() string        { return "response_sent" }
func (fileExchangeFailure) Kind() string { return "file_exchange_failure" }
