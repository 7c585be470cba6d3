package network

import (
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
)

type clientShared struct {
	mu       sync.Mutex
	refs     int
	commands chan Command
}

// Client sends commands to the event loop. Handles are cheap to Clone; the
// loop stops once every handle has been closed.
type Client struct {
	shared *clientShared
	done   <-chan struct{}
	closed atomic.Bool
}

func newClient(commands chan Command, done <-chan struct{}) *Client {
	return &Client{
		shared: &clientShared{refs: 1, commands: commands},
		done:   done,
	}
}

func (c *Client) Clone() *Client {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.refs++
	return &Client{shared: c.shared, done: c.done}
}

// Close releases the handle. Closing twice is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.refs--
	if c.shared.refs == 0 {
		close(c.shared.commands)
	}
	return nil
}

func (c *Client) send(cmd Command) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	select {
	case c.shared.commands <- cmd:
		return nil
	case <-c.done:
		return ErrLoopStopped
	}
}

// StartListening binds addr and waits for the result.
func (c *Client) StartListening(addr ma.Multiaddr) error {
	reply := make(chan error, 1)
	if err := c.send(startListeningCmd{addr: addr, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrLoopStopped
	}
}

func (c *Client) SubmitMessage(text, topic string) error {
	return c.send(submitMessageCmd{text: text, topic: topic})
}

func (c *Client) SendFileRequest(resource string, id peer.ID) error {
	return c.send(sendFileRequestCmd{resource: resource, peer: id})
}

func (c *Client) SendFileResponse(resource string, reply state.ResponseChannel) error {
	return c.send(sendFileResponseCmd{resource: resource, reply: reply})
}

func (c *Client) PushUsername(name string) error {
	return c.send(pushUsernameCmd{name: name})
}

func (c *Client) GetUsername(id peer.ID) error {
	return c.send(getUsernameCmd{peer: id})
}

func (c *Client) GetRooms() error {
	return c.send(getRoomsCmd{})
}

// CreateRoom rejects names outside 1-64 bytes before contacting the loop.
func (c *Client) CreateRoom(name string) error {
	if err := protocol.ValidateRoomName(name); err != nil {
		return err
	}
	return c.send(createRoomCmd{name: name})
}

var _ state.UsernameResolver = (*Client)(nil)
