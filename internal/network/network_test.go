package network

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rudransh-shrivastava/swapbytes/internal/db"
	"github.com/rudransh-shrivastava/swapbytes/internal/exchange"
	"github.com/rudransh-shrivastava/swapbytes/internal/logger"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
	"github.com/rudransh-shrivastava/swapbytes/internal/store"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519Key failed: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("IDFromPrivateKey failed: %v", err)
	}
	return id
}

func newTestLoop(t *testing.T, opts Options) (*Client, *EventLoop) {
	t.Helper()

	if opts.Files == nil {
		files, err := exchange.NewStore(exchange.Config{Root: t.TempDir()})
		if err != nil {
			t.Fatalf("NewStore failed: %v", err)
		}
		opts.Files = files
	}
	if opts.Logger == nil {
		opts.Logger = logger.New(io.Discard, slog.LevelError)
	}
	opts.DisableMDNS = true

	client, loop, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = loop.close() })
	return client, loop
}

func mustRecord(t *testing.T, rec protocol.Record) []byte {
	t.Helper()
	data, err := protocol.EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord failed: %v", err)
	}
	return data
}

func TestNew_JoinsDefaultRooms(t *testing.T) {
	_, loop := newTestLoop(t, Options{})

	if got := loop.dir.Rooms(); !reflect.DeepEqual(got, protocol.DefaultRooms) {
		t.Errorf("Expected default rooms %v, got %v", protocol.DefaultRooms, got)
	}
	for _, room := range protocol.DefaultRooms {
		if _, ok := loop.topics[room]; !ok {
			t.Errorf("Expected subscription to %s", room)
		}
	}
	if loop.dir.Self() != loop.ID() {
		t.Errorf("Expected directory self %s, got %s", loop.ID(), loop.dir.Self())
	}
}

func TestHandlePeerDiscovered(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	id := testPeerID(t)

	loop.handlePeerDiscovered(peer.AddrInfo{ID: id})

	if !slices.Contains(loop.dir.Peers(), id) {
		t.Error("Expected peer in directory")
	}
	if !slices.Contains(loop.dir.Awaiting(), id) {
		t.Error("Expected peer to await a username")
	}
	if got := loop.dir.Connected(); got != 1 {
		t.Errorf("Expected connected count 1, got %d", got)
	}

	topic := protocol.DMTopic(loop.ID().String(), id.String())
	if _, ok := loop.topics[topic]; !ok {
		t.Errorf("Expected subscription to DM topic %s", topic)
	}
	if !loop.dir.HasPrivate(topic) {
		t.Error("Expected an empty DM log")
	}

	loop.handlePeerDiscovered(peer.AddrInfo{ID: id})
	if got := loop.dir.Connected(); got != 1 {
		t.Errorf("Repeat announcements must not count twice, got %d", got)
	}
	if got := len(loop.dir.Peers()); got != 1 {
		t.Errorf("Expected 1 peer, got %d", got)
	}
}

func TestHandlePeerDiscovered_Self(t *testing.T) {
	_, loop := newTestLoop(t, Options{})

	loop.handlePeerDiscovered(peer.AddrInfo{ID: loop.ID()})

	if len(loop.dir.Peers()) != 0 || loop.dir.Connected() != 0 {
		t.Error("Self announcements must be ignored")
	}
}

func TestExpireStale(t *testing.T) {
	_, loop := newTestLoop(t, Options{DiscoveryTTL: time.Minute})
	fresh := testPeerID(t)
	stale := testPeerID(t)

	loop.handlePeerDiscovered(peer.AddrInfo{ID: fresh})
	loop.handlePeerDiscovered(peer.AddrInfo{ID: stale})
	loop.discovered[stale] = time.Now().Add(-time.Hour)

	loop.expireStale(time.Now())

	if got := loop.dir.Connected(); got != 1 {
		t.Errorf("Expected connected count 1 after expiry, got %d", got)
	}
	if _, ok := loop.discovered[stale]; ok {
		t.Error("Expected stale peer to be forgotten")
	}
	if _, ok := loop.discovered[fresh]; !ok {
		t.Error("Fresh peer must not expire")
	}
	if !loop.dir.HasPeer(stale) {
		t.Error("Expiry alone must not remove the peer from the directory")
	}
	if loop.host.ConnManager().IsProtected(stale, explicitPeerTag) {
		t.Error("Expired peer must no longer be protected")
	}
}

func TestHandleConnectionClosed(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	id := testPeerID(t)

	loop.handlePeerDiscovered(peer.AddrInfo{ID: id})
	loop.handleEvent(connectionClosed{peer: id})
	loop.handleEvent(connectionClosed{peer: id})

	if loop.dir.HasPeer(id) {
		t.Error("Expected peer to be removed")
	}
	if len(loop.dir.Awaiting()) != 0 {
		t.Error("Expected awaiting set to be empty")
	}
	if got := loop.dir.Connected(); got != 1 {
		t.Errorf("Connection loss must not change the discovery count, got %d", got)
	}
}

func TestHandleMessage(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	dm := protocol.DMTopic(loop.ID().String(), testPeerID(t).String())

	loop.handleEvent(messageReceived{topic: "Global", data: []byte("bob: hello")})
	loop.handleEvent(messageReceived{topic: dm, data: []byte("bob: psst")})
	loop.handleEvent(messageReceived{topic: dm, data: protocol.EncodeEnvelope(protocol.Envelope{Kind: protocol.TopicPrivate, Text: "bob: again"})})
	loop.handleEvent(messageReceived{topic: "Arts", data: []byte{'h', 'i', 0xff}})

	if got := loop.dir.PublicMessages("Global"); !reflect.DeepEqual(got, []string{"bob: hello"}) {
		t.Errorf("Unexpected Global log %v", got)
	}
	if got := loop.dir.PrivateMessages(dm); !reflect.DeepEqual(got, []string{"bob: psst", "bob: again"}) {
		t.Errorf("Unexpected DM log %v", got)
	}
	if got := loop.dir.PublicMessages("Arts"); len(got) != 1 || !strings.HasPrefix(got[0], "hi") {
		t.Errorf("Expected lossy decode, got %v", got)
	}
	if len(loop.dir.PublicMessages(dm)) != 0 {
		t.Error("DM text must not land in a room log")
	}
}

func TestHandleMessage_MismatchedKind(t *testing.T) {
	dm := func(t *testing.T, loop *EventLoop) string {
		return protocol.DMTopic(loop.ID().String(), testPeerID(t).String())
	}
	room := func(*testing.T, *EventLoop) string { return "Global" }

	tests := []struct {
		name  string
		topic func(*testing.T, *EventLoop) string
		kind  protocol.TopicKind
	}{
		{name: "public kind on direct topic", topic: dm, kind: protocol.TopicPublic},
		{name: "private kind on room", topic: room, kind: protocol.TopicPrivate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, loop := newTestLoop(t, Options{})
			topic := tt.topic(t, loop)

			data := protocol.EncodeEnvelope(protocol.Envelope{Kind: tt.kind, Text: "mallory: hi"})
			loop.handleEvent(messageReceived{topic: topic, data: data})

			if got := loop.dir.Rooms(); !reflect.DeepEqual(got, protocol.DefaultRooms) {
				t.Errorf("Room list changed to %v", got)
			}
			if got := loop.dir.PublicMessages(topic); len(got) != 0 {
				t.Errorf("Expected no public lines, got %v", got)
			}
			if got := loop.dir.PrivateMessages(topic); len(got) != 0 {
				t.Errorf("Expected no private lines, got %v", got)
			}
		})
	}
}

func TestHandleMessage_RoomListStaysValid(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	dm := protocol.DMTopic(loop.ID().String(), testPeerID(t).String())

	loop.handleEvent(messageReceived{
		topic: dm,
		data:  protocol.EncodeEnvelope(protocol.Envelope{Kind: protocol.TopicPublic, Text: "mallory: hi"}),
	})
	loop.handleEvent(queryCompleted{
		key:   protocol.RoomsKey(),
		value: mustRecord(t, protocol.NewRoomListRecord([]string{"Global"}, 1)),
	})
	loop.createRoom("retro")

	rec, ok := loop.replica.get()
	if !ok {
		t.Fatal("Expected replica to hold a room list")
	}
	if !slices.Contains(rec.Rooms, "retro") {
		t.Errorf("Expected retro in %v", rec.Rooms)
	}
	for _, room := range rec.Rooms {
		if err := protocol.ValidateRoomName(room); err != nil {
			t.Errorf("Room list holds invalid room %q: %v", room, err)
		}
	}
	v := protocol.RecordValidator{Kind: protocol.RecordRoomList}
	if err := v.Validate(protocol.RoomsKey(), mustRecord(t, rec)); err != nil {
		t.Errorf("Local room list would be rejected: %v", err)
	}
}

func TestSubmitMessage_KindFollowsTopic(t *testing.T) {
	_, loop := newTestLoop(t, Options{})

	loop.submitMessage("alice: hi", "retro")

	if loop.dir.HasPrivate("retro") {
		t.Error("A room topic must not get a direct-message log")
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-loop.events:
			msg, ok := ev.(messageReceived)
			if !ok || msg.topic != "retro" {
				continue
			}
			env, ok := protocol.DecodeEnvelope(msg.data)
			if !ok {
				t.Fatalf("Expected an envelope, got %q", msg.data)
			}
			if env.Kind != protocol.TopicPublic {
				t.Errorf("Expected public kind for an unknown room, got %s", env.Kind)
			}
			return
		case <-deadline:
			t.Fatal("Timeout waiting for own message")
		}
	}
}

func TestHandleResponseSent_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	_, loop := newTestLoop(t, Options{Logger: logger.New(&buf, slog.LevelDebug)})

	loop.handleEvent(responseSent{
		peer:     testPeerID(t),
		resource: "huge.iso",
		size:     protocol.MaxFrameSize + 1,
		err:      fmt.Errorf("send: %w", protocol.ErrFrameTooLarge),
	})

	out := buf.String()
	if !strings.Contains(out, "File too large to send") {
		t.Errorf("Expected an oversize error in the log, got %q", out)
	}
	if strings.Contains(out, "File sent") {
		t.Errorf("Oversized file must not be reported as sent: %q", out)
	}
}

func TestHandleQueryCompleted_Username(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	id := testPeerID(t)
	loop.dir.AddPeer(id)

	loop.handleEvent(queryCompleted{
		key:   protocol.UsernameKey(id.String()),
		value: mustRecord(t, protocol.NewUsernameRecord("bob", 1)),
	})

	if name, ok := loop.dir.Username(id); !ok || name != "bob" {
		t.Errorf("Expected username bob, got %q", name)
	}
	if len(loop.dir.Awaiting()) != 0 {
		t.Error("Resolved peer must leave the awaiting set")
	}
}

func TestHandleQueryCompleted_RoomList(t *testing.T) {
	_, loop := newTestLoop(t, Options{})

	loop.handleEvent(queryCompleted{
		key:   protocol.RoomsKey(),
		value: mustRecord(t, protocol.NewRoomListRecord([]string{"Global", "chess"}, 4)),
	})

	if !loop.dir.HasRoom("chess") {
		t.Fatal("Expected chess room")
	}
	if _, ok := loop.topics["chess"]; !ok {
		t.Error("Expected subscription to chess")
	}
	if got := loop.dir.PublicMessages("chess"); len(got) != 0 {
		t.Errorf("Expected empty log, got %v", got)
	}

	rec, ok := loop.replica.get()
	if !ok {
		t.Fatal("Expected replica to hold a room list")
	}
	if rec.Version != 5 {
		t.Errorf("Expected merged list to be republished as version 5, got %d", rec.Version)
	}
	for _, room := range append([]string{"chess"}, protocol.DefaultRooms...) {
		if !slices.Contains(rec.Rooms, room) {
			t.Errorf("Expected %s in merged list %v", room, rec.Rooms)
		}
	}
}

func TestHandleQueryCompleted_Invalid(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	id := testPeerID(t)
	loop.dir.AddPeer(id)
	before := loop.dir.Snapshot()

	loop.handleEvent(queryCompleted{key: protocol.RoomsKey(), value: []byte{0xff, 0x01}})
	loop.handleEvent(queryCompleted{key: protocol.UsernameKey(id.String()), err: routing.ErrNotFound})

	after := loop.dir.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Failed lookups must not change the directory:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestCreateRoom(t *testing.T) {
	_, loop := newTestLoop(t, Options{})

	loop.createRoom("chess")
	loop.createRoom("go")
	loop.createRoom("chess")
	loop.createRoom(strings.Repeat("x", 65))

	rec, ok := loop.replica.get()
	if !ok {
		t.Fatal("Expected replica to hold a room list")
	}
	if !reflect.DeepEqual(rec.Rooms, []string{"chess", "go"}) {
		t.Errorf("Expected [chess go], got %v", rec.Rooms)
	}
	if !loop.dir.HasRoom("chess") || !loop.dir.HasRoom("go") {
		t.Error("Creator should join its rooms")
	}
	if loop.dir.HasRoom(strings.Repeat("x", 65)) {
		t.Error("Oversized room must be rejected")
	}
}

func TestHandleInboundFileRequest(t *testing.T) {
	_, loop := newTestLoop(t, Options{})
	id := testPeerID(t)

	loop.handleEvent(inboundFileRequest{peer: id, name: "notes.txt"})

	reqs := loop.dir.FileRequests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(reqs))
	}
	if reqs[0].Peer != id || reqs[0].Resource != "notes.txt" {
		t.Errorf("Unexpected request %+v", reqs[0])
	}
	if reqs[0].ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("Expected a request id")
	}
}

type fakeReply struct{}

func (fakeReply) Peer() peer.ID { return "" }

func TestSendFileResponse_ForeignReply(t *testing.T) {
	_, loop := newTestLoop(t, Options{})

	loop.sendFileResponse("notes.txt", fakeReply{})
}

func TestHandleInboundFileResponse(t *testing.T) {
	gormDB, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gormDB) })
	transfers := store.NewTransferStore(gormDB)

	_, loop := newTestLoop(t, Options{Transfers: transfers})
	id := testPeerID(t)

	loop.handleEvent(inboundFileResponse{
		peer:     id,
		resource: "photo.png",
		response: &protocol.FileResponse{Name: "photo.png", Data: []byte("png")},
	})

	data, err := os.ReadFile(filepath.Join(loop.files.Root(), "new_photo.png"))
	if err != nil {
		t.Fatalf("Expected received file: %v", err)
	}
	if string(data) != "png" {
		t.Errorf("Unexpected contents %q", data)
	}

	recorded, err := transfers.ListTransfers(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Direction != db.DirectionReceived || recorded[0].PeerID != id.String() {
		t.Errorf("Unexpected ledger %+v", recorded)
	}
}

func TestMetricsCountEvents(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	_, loop := newTestLoop(t, Options{Metrics: metrics})

	loop.handleEvent(connectionClosed{peer: testPeerID(t)})
	loop.handleEvent(messageReceived{topic: "Global", data: []byte("x")})

	if got := testutil.ToFloat64(metrics.Events.WithLabelValues("connection_closed")); got != 1 {
		t.Errorf("Expected 1 connection_closed event, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Messages.WithLabelValues("public")); got != 1 {
		t.Errorf("Expected 1 public message, got %v", got)
	}
}

func TestRun_StopsWhenClientsClose(t *testing.T) {
	client, loop := newTestLoop(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() { errChan <- loop.Run(ctx) }()

	addr, _ := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	if err := client.StartListening(addr); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if len(loop.Addrs()) == 0 {
		t.Error("Expected listen addresses")
	}

	bad, _ := ma.NewMultiaddr("/ip4/203.0.113.7/tcp/1")
	if err := client.StartListening(bad); !errors.Is(err, ErrListen) {
		t.Errorf("Expected ErrListen, got %v", err)
	}

	clone := client.Clone()
	_ = client.Close()
	_ = clone.Close()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Timeout waiting for the loop to stop")
	}

	if err := clone.GetRooms(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.key")

	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}
	if !first.Equals(second) {
		t.Error("Expected the stored identity to be reused")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 permissions, got %o", info.Mode().Perm())
	}
}

var _ state.ResponseChannel = fakeReply{}
