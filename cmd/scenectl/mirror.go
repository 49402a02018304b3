package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/scenecast/internal/admin"
	"github.com/danmuck/scenecast/internal/config"
	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/observability"
	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/protocol/session"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/sprites"
)

type mirrorOptions struct {
	configPath string
	name       string
	transport  string
	address    string
	token      string
	consumerID string
	adminAddr  string
}

func init() {
	rootCmd.AddCommand(newMirrorCmd())
}

func newMirrorCmd() *cobra.Command {
	opts := mirrorOptions{}
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Join a producer and keep a replica of its scene",
		Long: `mirror joins a producer, applies its snapshot and per-tick diffs to a
local scene tree, and rejoins with backoff whenever the stream breaks.

Example:
  scenectl mirror --address 127.0.0.1:7400 --token secret
  scenectl mirror --transport ws --address ws://wall.local:7480/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mirrorConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMirror(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "mirror config file (toml)")
	cmd.Flags().StringVar(&opts.name, "name", "", "mirror name")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "tcp or ws")
	cmd.Flags().StringVar(&opts.address, "address", "", "producer address or ws:// url")
	cmd.Flags().StringVar(&opts.token, "token", "", "join token")
	cmd.Flags().StringVar(&opts.consumerID, "consumer-id", "", "stable consumer id (default random)")
	cmd.Flags().StringVar(&opts.adminAddr, "admin", "", "admin HTTP address")
	return cmd
}

func mirrorConfig(cmd *cobra.Command, opts mirrorOptions) (config.MirrorConfig, error) {
	cfg := config.DefaultMirrorConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadMirrorConfig(opts.configPath)
		if err != nil {
			return config.MirrorConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = opts.name
	}
	if flags.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if flags.Changed("address") {
		cfg.Address = opts.address
	}
	if flags.Changed("token") {
		cfg.Token = opts.token
	}
	if flags.Changed("consumer-id") {
		cfg.ConsumerID = opts.consumerID
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = opts.adminAddr
	}
	if err := config.ValidateMirrorConfig(cfg); err != nil {
		return config.MirrorConfig{}, err
	}
	return cfg, nil
}

func runMirror(ctx context.Context, cfg config.MirrorConfig) error {
	observability.InitLogger("scenectl")
	observability.RegisterMetrics()

	reg, err := sprites.NewRegistry()
	if err != nil {
		return err
	}
	client, err := engine.NewClient(cfg.Name, reg, engine.WithApply(func(tree *scene.Tree, f frame.Frame, stats scene.ReadStats) {
		if f.Header.MessageType == frame.MessageSnapshot {
			log.Info().
				Uint64("seq", f.Header.Sequence).
				Int("records", stats.Records).
				Int("nodes", tree.Len()).
				Msg("scenectl.mirror snapshot applied")
		}
	}))
	if err != nil {
		return err
	}
	sc, err := session.NewClient(session.ClientConfig{
		Transport:   cfg.Transport,
		Address:     cfg.Address,
		ConsumerID:  cfg.ConsumerID,
		Token:       cfg.Token,
		Manifest:    reg.Manifest(scene.RoleConsumer),
		Session:     cfg.Session,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		return err
	}
	log.Info().Str("consumer", sc.ConsumerID()).Str("address", cfg.Address).Msg("scenectl.mirror joining")

	var ln net.Listener
	if cfg.AdminAddr != "" {
		ln, err = net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("admin listen %s: %w", cfg.AdminAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx, sc) })
	if ln != nil {
		httpSrv := &http.Server{
			Handler:           admin.New(admin.MirrorSource(client, sc, version), cfg.CorsOrigins).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
