package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/scenecast/internal/admin"
	"github.com/danmuck/scenecast/internal/config"
	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/observability"
	"github.com/danmuck/scenecast/internal/protocol/session"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/sprites"
)

type serveOptions struct {
	configPath string
	name       string
	listen     string
	adminAddr  string
	tick       time.Duration
	token      string
	title      string
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a producer that replicates the demo scene",
		Long: `serve owns the authoritative scene tree, ticks it, and streams diffs to
every admitted mirror over TCP and, when the admin address is set, over
WebSocket at /ws.

Example:
  scenectl serve --config server.toml
  scenectl serve --listen :7400 --admin :7480 --token secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serveConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts.title)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "server config file (toml)")
	cmd.Flags().StringVar(&opts.name, "name", "", "producer name")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "TCP consumer address")
	cmd.Flags().StringVar(&opts.adminAddr, "admin", "", "admin HTTP and WebSocket address")
	cmd.Flags().DurationVar(&opts.tick, "tick", 0, "tick interval")
	cmd.Flags().StringVar(&opts.token, "token", "", "require this shared token from mirrors")
	cmd.Flags().StringVar(&opts.title, "title", "scenecast", "demo scene title")
	return cmd
}

func serveConfig(cmd *cobra.Command, opts serveOptions) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadServerConfig(opts.configPath)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = opts.name
	}
	if flags.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = opts.adminAddr
	}
	if flags.Changed("tick") {
		cfg.TickInterval = opts.tick
	}
	if flags.Changed("token") {
		cfg.Auth = config.AuthConfig{Mode: config.AuthModeToken, Token: opts.token}
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg config.ServerConfig, title string) error {
	observability.InitLogger("scenectl")
	observability.RegisterMetrics()

	reg, err := sprites.NewRegistry()
	if err != nil {
		return err
	}
	tree, err := scene.NewTree(scene.RoleProducer, reg)
	if err != nil {
		return err
	}
	demo, err := newDemoScene(tree, title)
	if err != nil {
		return err
	}
	validator, err := cfg.Auth.Validator()
	if err != nil {
		return err
	}

	hub := session.NewHub(session.HubConfig{
		Session:   cfg.Session,
		Validator: validator,
		Manifest:  reg.Manifest(scene.RoleProducer),
		OnJoin: func(p session.PeerInfo) {
			log.Info().Str("consumer", p.ConsumerID).Str("transport", p.Transport).Msg("scenectl.serve mirror joined")
		},
		OnLeave: func(p session.PeerInfo, err error) {
			log.Info().Err(err).Str("consumer", p.ConsumerID).Uint64("frames", p.Frames).Msg("scenectl.serve mirror left")
		},
	})

	opts := []engine.ServerOption{
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithUpdate(demo.Update),
	}
	if cfg.Listen != "" {
		ln, err := session.Listen(cfg.Listen, cfg.Session)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithListener(ln))
		log.Info().Str("addr", ln.Addr().String()).Bool("tls", cfg.Session.TLS.Enabled).Msg("scenectl.serve consumer listener ready")
	}

	var httpSrv *http.Server
	if cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("admin listen %s: %w", cfg.AdminAddr, err)
		}
		httpSrv = &http.Server{ReadHeaderTimeout: 5 * time.Second}
		opts = append(opts, engine.WithHTTPServer(httpSrv, ln))
		log.Info().Str("addr", ln.Addr().String()).Msg("scenectl.serve admin listener ready")
	}

	srv, err := engine.NewServer(cfg.Name, tree, hub, opts...)
	if err != nil {
		return err
	}
	if httpSrv != nil {
		httpSrv.Handler = admin.New(admin.ProducerSource(srv, version), cfg.CorsOrigins).Handler()
	}
	return srv.Run(ctx)
}
