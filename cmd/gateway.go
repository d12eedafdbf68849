package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/relaygate/internal/agent"
	"github.com/nextlevelbuilder/relaygate/internal/bootstrap"
	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/channels"
	"github.com/nextlevelbuilder/relaygate/internal/channels/discord"
	"github.com/nextlevelbuilder/relaygate/internal/channels/telegram"
	"github.com/nextlevelbuilder/relaygate/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/gateway"
	"github.com/nextlevelbuilder/relaygate/internal/gateway/methods"
	"github.com/nextlevelbuilder/relaygate/internal/store/file"
	"github.com/nextlevelbuilder/relaygate/internal/telemetry"
	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway server",
	Long:  "Starts the WebSocket gateway, the enabled channel adapters, and the agent runner.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(ctx context.Context) error {
	setupLogging()
	log := slog.Default()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log.Info("config loaded", "path", cfgPath, "hash", cfg.Hash())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Warn("telemetry setup failed, continuing without traces", "error", err)
	} else {
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			shutdownTracing(flushCtx)
		}()
	}

	if created, err := bootstrap.EnsureWorkspaces(cfg); err != nil {
		log.Warn("workspace seeding failed", "error", err)
	} else if len(created) > 0 {
		log.Info("seeded workspace files", "files", created)
	}

	msgBus := bus.NewMessageBus()

	sessionIdx, err := file.NewSessionIndex(config.ExpandHome(cfg.Sessions.Storage))
	if err != nil {
		return err
	}

	mgr := channels.NewManager(msgBus)
	registerChannels(cfg, mgr, msgBus, log)

	server := gateway.NewServer(cfg, msgBus)

	dedupeTTL := time.Duration(cfg.Gateway.DedupeTTLMin) * time.Minute
	if dedupeTTL <= 0 {
		dedupeTTL = 20 * time.Minute
	}
	dedupe := bus.NewDedupeCache(dedupeTTL, cfg.Gateway.DedupeMaxEntries)
	methods.NewSendMethods(mgr, dedupe).Register(server.Router())
	methods.NewCoreMethods(cfg, mgr, sessionIdx).Register(server.Router())

	runner := agent.NewRunner(cfg, msgBus, agent.NewExecResolver(log), mgr, sessionIdx, log)

	if err := mgr.StartAll(ctx); err != nil {
		return err
	}

	go func() {
		if err := config.Watch(ctx, cfgPath, cfg, func(next *config.Config) {
			log.Info("config reloaded", "hash", next.Hash())
		}); err != nil {
			log.Warn("config watcher unavailable", "error", err)
		}
	}()

	// Shutdown order: announce to clients, stop channels, then cancel the
	// context so the server and runner drain.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, map[string]any{
				"reason": sig.String(),
			}))
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			mgr.StopAll(stopCtx)
			stopCancel()
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("relaygate gateway started",
		"version", Version,
		"addr", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"channels", mgr.GetEnabledChannels(),
		"auth", cfg.Gateway.Token != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	return g.Wait()
}

// registerChannels instantiates each adapter whose config carries both the
// enabled flag and its credentials.
func registerChannels(cfg *config.Config, mgr *channels.Manager, msgBus *bus.MessageBus, log *slog.Logger) {
	if tc := cfg.Channels.Telegram; tc.Enabled && tc.Token != "" {
		ch, err := telegram.New(tc, cfg.TextChunkLimit("telegram"), msgBus)
		if err != nil {
			log.Error("telegram channel init failed", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
		}
	}
	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		ch, err := discord.New(dc, cfg.TextChunkLimit("discord"), msgBus)
		if err != nil {
			log.Error("discord channel init failed", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
		}
	}
	if wc := cfg.Channels.WhatsApp; wc.Enabled && wc.BridgeURL != "" {
		ch, err := whatsapp.New(wc, cfg.TextChunkLimit("whatsapp"), msgBus)
		if err != nil {
			log.Error("whatsapp channel init failed", "error", err)
		} else {
			mgr.RegisterChannel("whatsapp", ch)
		}
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
