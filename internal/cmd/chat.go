package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rudransh-shrivastava/swapbytes/internal/config"
	"github.com/rudransh-shrivastava/swapbytes/internal/db"
	"github.com/rudransh-shrivastava/swapbytes/internal/exchange"
	"github.com/rudransh-shrivastava/swapbytes/internal/logger"
	"github.com/rudransh-shrivastava/swapbytes/internal/network"
	"github.com/rudransh-shrivastava/swapbytes/internal/state"
	"github.com/rudransh-shrivastava/swapbytes/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

var chatOverrides config.Overrides

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "joins the local network and opens the chat shell",
	Long:  `joins the local network, discovers peers over mDNS and opens an interactive chat shell`,
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	addChatFlags(chatCmd)
}

func addChatFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringSliceVar(&chatOverrides.Listen, "listen", nil, "multiaddrs to listen on")
	f.StringVar(&chatOverrides.DataDir, "data-dir", "", "directory for the identity and transfer ledger")
	f.StringVar(&chatOverrides.LogDir, "log-dir", "", "directory for app.log")
	f.StringVar(&chatOverrides.LogLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&chatOverrides.Username, "username", "", "username to publish on startup")
	f.StringVar(&chatOverrides.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	f.BoolVar(&chatOverrides.NoMDNS, "no-mdns", false, "disable mDNS discovery")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(chatOverrides)
	if err != nil {
		return err
	}

	logFile, err := logger.OpenLogFile(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.New(logFile, level)

	priv, err := network.LoadOrCreateIdentity(cfg.IdentityPath())
	if err != nil {
		return err
	}

	gormDB, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gormDB) }()
	transfers := store.NewTransferStore(gormDB)

	files, err := exchange.NewStore(exchange.Config{
		Root:     ".",
		Progress: cmd.ErrOrStderr(),
		Logger:   log,
	})
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
	}
	metrics := network.NewMetrics(registerer(reg))

	addrs, err := cfg.ListenAddrs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := state.NewDirectory()
	client, loop, err := network.New(ctx, network.Options{
		Identity:      priv,
		Directory:     dir,
		Files:         files,
		Transfers:     transfers,
		Metrics:       metrics,
		Logger:        log,
		ServiceName:   cfg.Discovery.MDNSService,
		DHTPrefix:     cfg.Discovery.DHTPrefix,
		DefaultRooms:  cfg.Rooms.Default,
		DiscoveryTTL:  cfg.Discovery.TTL.Duration,
		SweepInterval: cfg.Discovery.SweepInterval.Duration,
		DisableMDNS:   cfg.Discovery.DisableMDNS,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if reg != nil {
		srv := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Go(func() error {
			log.Info("Serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, addr := range addrs {
		if err := client.StartListening(addr); err != nil {
			stop()
			_ = client.Close()
			_ = g.Wait()
			return err
		}
	}

	sh := newShell(shellConfig{
		Client:    client,
		Directory: dir,
		Transfers: transfers,
		Out:       cmd.OutOrStdout(),
		Logger:    log,
	})
	if cfg.Username != "" {
		if err := sh.setName(cfg.Username); err != nil {
			log.Warn("Failed to publish username", "error", err)
		}
	}

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)

	g.Go(func() error {
		defer stop()
		defer client.Close()
		return sh.run(gctx, lines)
	})

	return g.Wait()
}

// registerer keeps a nil *Registry from becoming a non-nil interface.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

// scanLines feeds input lines to out and closes it at end of input.
func scanLines(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
