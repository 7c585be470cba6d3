// Package state holds the in-memory directory shared between the network
// event loop and the presentation layer.
package state

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

// ResponseChannel answers exactly one inbound file request.
type ResponseChannel interface {
	Peer() peer.ID
}

type FileRequest struct {
	ID       uuid.UUID
	Peer     peer.ID
	Resource string
	Reply    ResponseChannel
}

// Directory is safe for concurrent use. Its mutex is never held while
// sending on a channel or waiting on the network.
type Directory struct {
	mu sync.Mutex

	self      peer.ID
	connected int

	peers     []peer.ID
	awaiting  map[peer.ID]struct{}
	usernames map[peer.ID]string

	rooms   []string
	roomSet map[string]struct{}

	public  map[string][]string
	private map[string][]string

	requests []FileRequest

	reconciling atomic.Bool
}

func NewDirectory() *Directory {
	return &Directory{
		awaiting:  make(map[peer.ID]struct{}),
		usernames: make(map[peer.ID]string),
		roomSet:   make(map[string]struct{}),
		public:    make(map[string][]string),
		private:   make(map[string][]string),
	}
}

func (d *Directory) SetSelf(id peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = id
}

func (d *Directory) Self() peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

// AddPeer records a discovered peer. Peers without a known username are
// marked as awaiting one. It reports whether the peer was new.
func (d *Directory) AddPeer(id peer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.usernames[id]; !ok {
		d.awaiting[id] = struct{}{}
	}
	if slices.Contains(d.peers, id) {
		return false
	}
	d.peers = append(d.peers, id)
	return true
}

// RemovePeer drops the peer, its awaiting mark and its username.
func (d *Directory) RemovePeer(id peer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.awaiting, id)
	delete(d.usernames, id)

	i := slices.Index(d.peers, id)
	if i < 0 {
		return false
	}
	d.peers = slices.Delete(d.peers, i, i+1)
	return true
}

func (d *Directory) HasPeer(id peer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.peers, id)
}

func (d *Directory) Peers() []peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.peers)
}

func (d *Directory) Awaiting() []peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]peer.ID, 0, len(d.awaiting))
	for _, id := range d.peers {
		if _, ok := d.awaiting[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SetUsername stores a resolved username and clears the awaiting mark.
func (d *Directory) SetUsername(id peer.ID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usernames[id] = name
	delete(d.awaiting, id)
}

func (d *Directory) Username(id peer.ID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.usernames[id]
	return name, ok
}

func (d *Directory) Usernames() map[peer.ID]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[peer.ID]string, len(d.usernames))
	for id, name := range d.usernames {
		out[id] = name
	}
	return out
}

func (d *Directory) IncConnected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected++
	return d.connected
}

func (d *Directory) DecConnected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected > 0 {
		d.connected--
	}
	return d.connected
}

func (d *Directory) Connected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// AddRoom appends a room with an empty log. It reports whether the room was
// added; adding a known room or an invalid name is a no-op.
func (d *Directory) AddRoom(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addRoomLocked(name)
}

func (d *Directory) addRoomLocked(name string) bool {
	if _, ok := d.roomSet[name]; ok {
		return false
	}
	if protocol.ValidateRoomName(name) != nil {
		return false
	}
	d.roomSet[name] = struct{}{}
	d.rooms = append(d.rooms, name)
	if _, ok := d.public[name]; !ok {
		d.public[name] = nil
	}
	return true
}

func (d *Directory) HasRoom(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.roomSet[name]
	return ok
}

func (d *Directory) Rooms() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.rooms)
}

// AppendPublic appends to a room log, registering the room first if needed.
// Lines for names that are not valid rooms are dropped and false is returned.
func (d *Directory) AppendPublic(room, line string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.roomSet[room]; !ok && !d.addRoomLocked(room) {
		return false
	}
	d.public[room] = append(d.public[room], line)
	return true
}

func (d *Directory) PublicMessages(room string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.public[room])
}

// InitPrivate creates an empty DM log unless one exists.
func (d *Directory) InitPrivate(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.private[topic]; !ok {
		d.private[topic] = nil
	}
}

func (d *Directory) AppendPrivate(topic, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.private[topic] = append(d.private[topic], line)
}

func (d *Directory) PrivateMessages(topic string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.private[topic])
}

func (d *Directory) HasPrivate(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.private[topic]
	return ok
}

func (d *Directory) PushFileRequest(req FileRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
}

func (d *Directory) FileRequests() []FileRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.requests)
}

// TakeFileRequest removes and returns the pending request with the given id.
func (d *Directory) TakeFileRequest(id uuid.UUID) (FileRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := slices.IndexFunc(d.requests, func(r FileRequest) bool { return r.ID == id })
	if i < 0 {
		return FileRequest{}, false
	}
	req := d.requests[i]
	d.requests = slices.Delete(d.requests, i, i+1)
	return req, true
}

// Snapshot is a point-in-time copy of the directory for rendering.
type Snapshot struct {
	Self      peer.ID
	Connected int
	Peers     []peer.ID
	Awaiting  []peer.ID
	Usernames map[peer.ID]string
	Rooms     []string
	Requests  []FileRequest
}

func (d *Directory) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	usernames := make(map[peer.ID]string, len(d.usernames))
	for id, name := range d.usernames {
		usernames[id] = name
	}
	awaiting := make([]peer.ID, 0, len(d.awaiting))
	for _, id := range d.peers {
		if _, ok := d.awaiting[id]; ok {
			awaiting = append(awaiting, id)
		}
	}

	return Snapshot{
		Self:      d.self,
		Connected: d.connected,
		Peers:     slices.Clone(d.peers),
		Awaiting:  awaiting,
		Usernames: usernames,
		Rooms:     slices.Clone(d.rooms),
		Requests:  slices.Clone(d.requests),
	}
}
