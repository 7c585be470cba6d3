package network

import (
	"errors"
	"strings"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

// putRecord stores value under key on a helper goroutine.
func (l *EventLoop) putRecord(key string, rec protocol.Record) {
	data, err := protocol.EncodeRecord(rec)
	if err != nil {
		l.logger.Error("Failed to encode record", "key", key, "error", err)
		return
	}

	l.spawn(func() {
		err := l.dht.PutValue(l.ctx, key, data, dht.Quorum(1))
		l.post(recordStored{key: key, err: err})
	})
}

// getRecord looks key up on a helper goroutine; the result arrives as a
// queryCompleted event.
func (l *EventLoop) getRecord(key string) {
	l.spawn(func() {
		value, err := l.dht.GetValue(l.ctx, key, dht.Quorum(1))
		l.post(queryCompleted{key: key, value: value, err: err})
	})
}

func (l *EventLoop) pushUsername(name string) {
	key := protocol.UsernameKey(l.host.ID().String())
	l.putRecord(key, protocol.NewUsernameRecord(name, uint64(time.Now().UnixNano())))
	l.logger.Info("Publishing username", "username", name)
}

func (l *EventLoop) getUsername(id peer.ID) {
	l.getRecord(protocol.UsernameKey(id.String()))
}

func (l *EventLoop) getRooms() {
	l.getRecord(protocol.RoomsKey())
}

// createRoom adds name to the locally held room list and republishes it.
// The creator joins the room right away.
func (l *EventLoop) createRoom(name string) {
	if err := protocol.ValidateRoomName(name); err != nil {
		l.logger.Warn("Rejected room", "room", name, "error", err)
		return
	}

	var rooms []string
	var version uint64
	if rec, ok := l.replica.get(); ok {
		rooms = rec.Rooms
		version = rec.Version
	}
	rooms = protocol.MergeRooms(rooms, []string{name})

	rec := protocol.NewRoomListRecord(rooms, version+1)
	l.replica.observe(protocol.RoomsKey(), rec)
	l.putRecord(protocol.RoomsKey(), rec)

	if l.dir.AddRoom(name) {
		if err := l.subscribe(name); err != nil {
			l.logger.Warn("Failed to join room", "room", name, "error", err)
		}
	}
	l.logger.Info("Room created", "room", name, "version", version+1)
}

func (l *EventLoop) handleRecordStored(e recordStored) {
	if e.err != nil {
		l.logger.Warn("Failed to store record", "key", e.key, "error", e.err)
		return
	}
	l.logger.Debug("Record stored", "key", e.key)
}

func (l *EventLoop) handleQueryCompleted(e queryCompleted) {
	if e.err != nil {
		outcome := "error"
		if errors.Is(e.err, routing.ErrNotFound) {
			outcome = "not_found"
		}
		l.metrics.Queries.WithLabelValues(outcome).Inc()
		l.logger.Warn("Directory lookup failed", "key", e.key, "error", e.err)
		return
	}

	rec, err := protocol.DecodeRecord(e.value)
	if err != nil {
		l.metrics.Queries.WithLabelValues("invalid").Inc()
		l.logger.Error("Failed to decode directory record", "key", e.key, "error", err)
		return
	}
	l.metrics.Queries.WithLabelValues("ok").Inc()

	switch rec.Kind {
	case protocol.RecordUsername:
		l.mergeUsername(e.key, rec)
	case protocol.RecordRoomList:
		l.mergeRooms(rec)
	}
}

func (l *EventLoop) mergeUsername(key string, rec protocol.Record) {
	raw, ok := strings.CutPrefix(key, protocol.UsernameKey(""))
	if !ok {
		l.logger.Error("Username record under unexpected key", "key", key)
		return
	}
	id, err := peer.Decode(raw)
	if err != nil {
		l.logger.Error("Username record for invalid peer id", "key", key, "error", err)
		return
	}

	l.dir.SetUsername(id, rec.Username)
	l.logger.Info("Username resolved", "peer", id.String(), "username", rec.Username)
}

// mergeRooms joins every room in rec this node does not know yet. When this
// node knows rooms the record lacks, the union is published again.
func (l *EventLoop) mergeRooms(rec protocol.Record) {
	l.replica.observe(protocol.RoomsKey(), rec)

	for _, room := range rec.Rooms {
		if !l.dir.AddRoom(room) {
			continue
		}
		if err := l.subscribe(room); err != nil {
			l.logger.Warn("Failed to join room", "room", room, "error", err)
			continue
		}
		l.logger.Info("Joined room", "room", room)
	}

	merged := protocol.MergeRooms(rec.Rooms, l.dir.Rooms())
	if len(merged) == len(rec.Rooms) {
		return
	}

	version := rec.Version
	if local, ok := l.replica.get(); ok && local.Version > version {
		version = local.Version
	}
	union := protocol.NewRoomListRecord(merged, version+1)
	l.replica.observe(protocol.RoomsKey(), union)
	l.putRecord(protocol.RoomsKey(), union)
	l.logger.Debug("Republishing merged room list", "rooms", len(merged), "version", version+1)
}
