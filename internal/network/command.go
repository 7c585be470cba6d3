package network

import (
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
)

// Command is a request from a Client to the event loop.
type Command interface {
	Name() string
}

type startListeningCmd struct {
	addr  ma.Multiaddr
	reply chan error
}

type submitMessageCmd struct {
	text  string
	topic string
}

type sendFileRequestCmd struct {
	resource string
	peer     peer.ID
}

type sendFileResponseCmd struct {
	resource string
	reply    state.ResponseChannel
}

type pushUsernameCmd struct {
	name string
}

type getUsernameCmd struct {
	peer peer.ID
}

type getRoomsCmd struct{}

type createRoomCmd struct {
	name string
}

func (startListeningCmd) Name() string   { return "start_listening" }
func (submitMessageCmd) Name() string    { return "submit_message" }
func (sendFileRequestCmd) Name() string  { return "send_file_request" }
func (sendFileResponseCmd) Name() string { return "send_file_response" }
func (pushUsernameCmd) Name() string     { return "push_username" }
func (getUsernameCmd) Name() string      { return "get_username" }
func (getRoomsCmd) Name() string         { return "get_rooms" }
func (createRoomCmd) Name() string       { return "create_room" }
