// Package network runs the single event loop that owns the libp2p stack.
// Callers talk to it only through Client handles and observe its effects
// through the shared state.Directory.
package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rudransh-shrivastava/swapbytes/internal/exchange"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
	"github.com/rudransh-shrivastava/swapbytes/internal/store"
	"github.com/rudransh-shrivastava/swapbytes/internal/transport"
	"go.uber.org/multierr"
)

const (
	eventBuffer = 64

	defaultServiceName   = "swapbytes"
	defaultDiscoveryTTL  = 2 * time.Minute
	defaultSweepInterval = 15 * time.Second
)

type Options struct {
	Identity  crypto.PrivKey
	Directory *state.Directory
	Files     *exchange.Store
	Transfers store.TransferRepository
	Metrics   *Metrics
	Logger    *slog.Logger

	ServiceName   string
	DHTPrefix     string
	DefaultRooms  []string
	DiscoveryTTL  time.Duration
	SweepInterval time.Duration
	DisableMDNS   bool
}

type EventLoop struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	mdns   mdns.Service

	dir       *state.Directory
	files     *exchange.Store
	transfers store.TransferRepository
	metrics   *Metrics
	logger    *slog.Logger
	opts      Options

	commands <-chan Command
	events   chan Event
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	busSub     event.Subscription
	topics     map[string]*joinedTopic
	discovered map[peer.ID]time.Time
	replica    *roomReplica

	closeOnce sync.Once
	closeErr  error
}

// New builds the protocol stack and returns the first Client handle along
// with the loop that serves it. The stack does not listen until
// StartListening is called, and nothing is processed until Run.
func New(ctx context.Context, opts Options) (*Client, *EventLoop, error) {
	opts, err := withDefaults(opts)
	if err != nil {
		return nil, nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	replica := &roomReplica{}

	st, err := newStack(loopCtx, opts, replica)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	commands := make(chan Command)
	l := &EventLoop{
		host:       st.host,
		dht:        st.dht,
		pubsub:     st.pubsub,
		dir:        opts.Directory,
		files:      opts.Files,
		transfers:  opts.Transfers,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		opts:       opts,
		commands:   commands,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		ctx:        loopCtx,
		cancel:     cancel,
		topics:     make(map[string]*joinedTopic),
		discovered: make(map[peer.ID]time.Time),
		replica:    replica,
	}

	l.dir.SetSelf(l.host.ID())

	if err := l.watchHost(); err != nil {
		_ = l.close()
		return nil, nil, err
	}

	transport.Listen(l.host, p2pprotocol.ID(protocol.FileExchangeProtocol), l.serveFileExchange)

	for _, room := range opts.DefaultRooms {
		l.dir.AddRoom(room)
		if err := l.subscribe(room); err != nil {
			_ = l.close()
			return nil, nil, fmt.Errorf("joining room %s: %w", room, err)
		}
	}

	l.logger.Info("Network node created", "peer_id", l.host.ID().String())
	return newClient(commands, l.done), l, nil
}

func withDefaults(opts Options) (Options, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Identity == nil {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return opts, fmt.Errorf("generating identity: %w", err)
		}
		opts.Identity = priv
	}
	if opts.Directory == nil {
		opts.Directory = state.NewDirectory()
	}
	if opts.Files == nil {
		files, err := exchange.NewStore(exchange.Config{Logger: opts.Logger})
		if err != nil {
			return opts, err
		}
		opts.Files = files
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = defaultServiceName
	}
	if opts.DHTPrefix == "" {
		opts.DHTPrefix = protocol.DHTProtocolPrefix
	}
	if opts.DefaultRooms == nil {
		opts.DefaultRooms = protocol.DefaultRooms
	}
	if opts.DiscoveryTTL <= 0 {
		opts.DiscoveryTTL = defaultDiscoveryTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	return opts, nil
}

func (l *EventLoop) ID() peer.ID {
	return l.host.ID()
}

func (l *EventLoop) Addrs() []ma.Multiaddr {
	return l.host.Addrs()
}

// Run processes one event or command at a time until every Client handle
// is closed or ctx is cancelled. The protocol stack is shut down on return.
func (l *EventLoop) Run(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Append(err, l.close())
	}()

	sweep := time.NewTicker(l.opts.SweepInterval)
	defer sweep.Stop()

	l.logger.Info("Event loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-l.commands:
			if !ok {
				l.logger.Info("All clients closed, stopping event loop")
				return nil
			}
			l.handleCommand(cmd)
		case ev := <-l.events:
			l.handleEvent(ev)
		case now := <-sweep.C:
			l.expireStale(now)
		}
	}
}

func (l *EventLoop) handleCommand(cmd Command) {
	l.metrics.Commands.WithLabelValues(cmd.Name()).Inc()

	switch c := cmd.(type) {
	case startListeningCmd:
		c.reply <- l.startListening(c.addr)
	case submitMessageCmd:
		l.submitMessage(c.text, c.topic)
	case sendFileRequestCmd:
		l.sendFileRequest(c.resource, c.peer)
	case sendFileResponseCmd:
		l.sendFileResponse(c.resource, c.reply)
	case pushUsernameCmd:
		l.pushUsername(c.name)
	case getUsernameCmd:
		l.getUsername(c.peer)
	case getRoomsCmd:
		l.getRooms()
	case createRoomCmd:
		l.createRoom(c.name)
	default:
		l.logger.Warn("Unhandled command", "command", cmd.Name())
	}
}

func (l *EventLoop) handleEvent(ev Event) {
	l.metrics.Events.WithLabelValues(ev.Kind()).Inc()

	switch e := ev.(type) {
	case peerDiscovered:
		l.handlePeerDiscovered(e.info)
	case peerConnected:
		l.handlePeerConnected(e.peer)
	case peerIdentified:
		l.handlePeerIdentified(e.peer)
	case connectionClosed:
		l.handleConnectionClosed(e.peer)
	case listenAddrsUpdated:
		for _, addr := range e.addrs {
			l.logger.Info("Listening on", "addr", addr.String())
		}
	case messageReceived:
		l.handleMessage(e)
	case queryCompleted:
		l.handleQueryCompleted(e)
	case recordStored:
		l.handleRecordStored(e)
	case inboundFileRequest:
		l.handleInboundFileRequest(e)
	case inboundFileResponse:
		l.handleInboundFileResponse(e)
	case responseSent:
		l.handleResponseSent(e)
	case fileExchangeFailure:
		l.logger.Warn("File exchange failed", "error", e.err)
	default:
		l.logger.Warn("Unhandled event", "event", ev.Kind())
	}
}

// post hands an event from a helper goroutine to the loop. It gives up once
// the loop has stopped.
func (l *EventLoop) post(ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

// spawn runs fn on a helper goroutine tracked for shutdown.
func (l *EventLoop) spawn(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

func (l *EventLoop) startListening(addr ma.Multiaddr) error {
	if err := l.host.Network().Listen(addr); err != nil {
		l.logger.Error("Failed to listen", "addr", addr.String(), "error", err)
		return fmt.Errorf("%w on %s: %v", ErrListen, addr, err)
	}

	if l.mdns == nil && !l.opts.DisableMDNS {
		svc := mdns.NewMdnsService(l.host, l.opts.ServiceName, &discoveryNotifee{loop: l})
		if err := svc.Start(); err != nil {
			l.logger.Warn("Failed to start mDNS discovery", "error", err)
		} else {
			l.mdns = svc
		}
	}

	for _, a := range l.host.Addrs() {
		l.logger.Info("Listening on", "addr", a.String())
	}
	return nil
}

func (l *EventLoop) close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cancel()

		var errs error
		if l.mdns != nil {
			errs = multierr.Append(errs, l.mdns.Close())
		}
		if l.busSub != nil {
			errs = multierr.Append(errs, l.busSub.Close())
		}
		for _, t := range l.topics {
			errs = multierr.Append(errs, t.close())
		}
		transport.Unlisten(l.host, p2pprotocol.ID(protocol.FileExchangeProtocol))
		errs = multierr.Append(errs, l.dht.Close())
		errs = multierr.Append(errs, l.host.Close())

		l.wg.Wait()
		l.closeErr = errs
		l.logger.Info("Network node stopped")
	})
	return l.closeErr
}
