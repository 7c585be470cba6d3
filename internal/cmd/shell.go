package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
	"github.com/rudransh-shrivastava/swapbytes/internal/store"
)

const (
	refreshInterval = 2 * time.Second
	transfersShown  = 20
)

var errNoName = errors.New("set a username with /name first")

// chatClient is the part of network.Client the shell drives.
type chatClient interface {
	SubmitMessage(text, topic string) error
	SendFileRequest(resource string, id peer.ID) error
	SendFileResponse(resource string, reply state.ResponseChannel) error
	PushUsername(name string) error
	GetUsername(id peer.ID) error
	GetRooms() error
	CreateRoom(name string) error
}

type shellConfig struct {
	Client    chatClient
	Directory *state.Directory
	Transfers store.TransferRepository
	Out       io.Writer
	Logger    *slog.Logger
}

// shell is the line-oriented chat front end. It reads the directory the
// event loop writes and sends everything else as commands.
type shell struct {
	client    chatClient
	dir       *state.Directory
	transfers store.TransferRepository
	out       io.Writer
	logger    *slog.Logger

	username  string
	topic     string
	shown     map[string]int
	pushedFor int
}

func newShell(cfg shellConfig) *shell {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &shell{
		client:    cfg.Client,
		dir:       cfg.Directory,
		transfers: cfg.Transfers,
		out:       cfg.Out,
		logger:    logger,
		topic:     "Global",
		shown:     make(map[string]int),
	}
}

// run serves input lines until /quit, end of input or ctx is done. Between
// lines it prints new messages of the current topic and keeps usernames in
// step with the peer list.
func (s *shell) run(ctx context.Context, lines <-chan string) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	s.printf("Joined %s. Type /help for commands.\n", s.topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.execute(ctx, line)
			if err != nil {
				s.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
			s.flush()
		case <-ticker.C:
			s.refresh()
			s.flush()
		}
	}
}

// refresh reconciles usernames and republishes ours when new peers appear,
// since a record stored before they joined may not have reached them.
func (s *shell) refresh() {
	if err := s.dir.UpdateUsernames(s.client); err != nil {
		s.logger.Warn("Failed to update usernames", "error", err)
	}

	n := len(s.dir.Peers())
	if s.username != "" && n > s.pushedFor {
		if err := s.client.PushUsername(s.username); err != nil {
			s.logger.Warn("Failed to publish username", "error", err)
		}
	}
	s.pushedFor = n
}

// flush prints lines of the current topic not shown yet.
func (s *shell) flush() {
	msgs := s.messages(s.topic)
	for _, m := range msgs[min(s.shown[s.topic], len(msgs)):] {
		s.printf("[%s] %s\n", s.label(s.topic), m)
	}
	s.shown[s.topic] = len(msgs)
}

func (s *shell) execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.say(line)
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		s.help()
	case "name":
		if arg == "" {
			return false, errors.New("usage: /name <username>")
		}
		return false, s.setName(arg)
	case "rooms":
		if err := s.client.GetRooms(); err != nil {
			return false, err
		}
		for _, room := range s.dir.Rooms() {
			s.printf("  %s (%d messages)\n", room, len(s.dir.PublicMessages(room)))
		}
	case "create":
		if err := s.client.CreateRoom(arg); err != nil {
			return false, err
		}
		s.printf("Created room %s\n", arg)
	case "join":
		if !s.dir.HasRoom(arg) {
			return false, fmt.Errorf("unknown room %q, try /rooms", arg)
		}
		s.switchTo(arg)
	case "dm":
		id, err := s.resolvePeer(arg)
		if err != nil {
			return false, err
		}
		s.switchTo(protocol.DMTopic(s.dir.Self().String(), id.String()))
	case "peers":
		s.peers()
	case "log":
		s.shown[s.topic] = 0
	case "get":
		who, resource, ok := strings.Cut(arg, " ")
		if !ok || strings.TrimSpace(resource) == "" {
			return false, errors.New("usage: /get <peer> <file>")
		}
		id, err := s.resolvePeer(who)
		if err != nil {
			return false, err
		}
		resource = strings.TrimSpace(resource)
		if err := s.client.SendFileRequest(resource, id); err != nil {
			return false, err
		}
		s.printf("Requested %s from %s\n", resource, s.peerName(id))
	case "requests":
		reqs := s.dir.FileRequests()
		if len(reqs) == 0 {
			s.printf("No pending requests\n")
		}
		for _, r := range reqs {
			s.printf("  %s  %s wants %s\n", r.ID, s.peerName(r.Peer), r.Resource)
		}
	case "accept":
		id, err := uuid.Parse(arg)
		if err != nil {
			return false, fmt.Errorf("invalid request id %q: %w", arg, err)
		}
		req, ok := s.dir.TakeFileRequest(id)
		if !ok {
			return false, fmt.Errorf("no pending request %s", id)
		}
		if err := s.client.SendFileResponse(req.Resource, req.Reply); err != nil {
			return false, err
		}
		s.printf("Sending %s to %s\n", req.Resource, s.peerName(req.Peer))
	case "transfers":
		return false, s.listTransfers(ctx)
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func (s *shell) say(text string) error {
	if s.username == "" {
		return errNoName
	}
	return s.client.SubmitMessage(s.username+": "+text, s.topic)
}

func (s *shell) setName(name string) error {
	if err := s.client.PushUsername(name); err != nil {
		return err
	}
	s.username = name
	s.pushedFor = len(s.dir.Peers())
	return nil
}

func (s *shell) switchTo(topic string) {
	s.topic = topic
	s.shown[topic] = 0
	s.printf("Now talking in %s\n", s.label(topic))
}

// resolvePeer accepts a username or a peer id.
func (s *shell) resolvePeer(who string) (peer.ID, error) {
	if who == "" {
		return "", errors.New("missing peer")
	}
	for id, name := range s.dir.Usernames() {
		if name == who && s.dir.HasPeer(id) {
			return id, nil
		}
	}
	id, err := peer.Decode(who)
	if err != nil {
		return "", fmt.Errorf("unknown peer %q", who)
	}
	return id, nil
}

func (s *shell) peers() {
	snap := s.dir.Snapshot()
	s.printf("%d peers discovered\n", snap.Connected)
	for _, id := range snap.Peers {
		name, ok := snap.Usernames[id]
		if !ok {
			name = "(resolving)"
		}
		s.printf("  %s  %s\n", name, id)
	}
}

func (s *shell) listTransfers(ctx context.Context) error {
	if s.transfers == nil {
		return errors.New("transfer ledger unavailable")
	}
	list, err := s.transfers.ListTransfers(ctx, transfersShown)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		s.printf("No transfers yet\n")
	}
	for _, t := range list {
		s.printf("  %s  %-8s %s  %s (%d bytes)\n",
			time.Unix(t.CreatedAt, 0).Format(time.DateTime), t.Direction, t.Resource, t.PeerID, t.Size)
	}
	return nil
}

func (s *shell) messages(topic string) []string {
	if s.dir.HasRoom(topic) {
		return s.dir.PublicMessages(topic)
	}
	return s.dir.PrivateMessages(topic)
}

// label names a topic for display; direct topics show the other peer.
func (s *shell) label(topic string) string {
	if protocol.ClassifyTopic(topic) == protocol.TopicPublic {
		return topic
	}
	self := s.dir.Self().String()
	for _, part := range strings.Split(topic, "_") {
		if part == self {
			continue
		}
		if id, err := peer.Decode(part); err == nil {
			return "dm:" + s.peerName(id)
		}
	}
	return topic
}

func (s *shell) peerName(id peer.ID) string {
	if name, ok := s.dir.Username(id); ok {
		return name
	}
	return id.ShortString()
}

func (s *shell) help() {
	s.printf(`Commands:
  /name <username>       set and publish your username
  /rooms                 refresh and list rooms
  /create <room>         create a room
  /join <room>           switch to a room
  /dm <peer>             switch to a direct conversation
  /peers                 list discovered peers
  /log                   show the current conversation again
  /get <peer> <file>     request a file
  /requests              list pending file requests
  /accept <id>           send the file for a pending request
  /transfers             list recent transfers
  /quit                  leave
Anything else is sent to the current conversation.
`)
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
