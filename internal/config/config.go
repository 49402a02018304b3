package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/scenecast/internal/auth"
	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/protocol/session"
)

const (
	AuthModeNone  = "none"
	AuthModeToken = "token"
	AuthModeJWT   = "jwt"
)

var ErrInvalidConfig = errors.New("config: invalid")

// AuthConfig selects how a producer validates joining consumers.
type AuthConfig struct {
	Mode      string
	Token     string
	JWTSecret string
	JWTIssuer string
}

// Validator builds the validator for the configured mode.
func (a AuthConfig) Validator() (auth.Validator, error) {
	switch a.Mode {
	case "", AuthModeNone:
		return auth.AllowAll{}, nil
	case AuthModeToken:
		return auth.StaticToken{Token: a.Token}, nil
	case AuthModeJWT:
		return auth.JWT{Secret: []byte(a.JWTSecret), Issuer: a.JWTIssuer, Leeway: 5 * time.Second}, nil
	default:
		return nil, fmt.Errorf("%w: unknown auth mode %q", ErrInvalidConfig, a.Mode)
	}
}

type ServerConfig struct {
	Name string
	// Listen is the TCP consumer address. Empty disables TCP links.
	Listen string
	// AdminAddr serves the admin routes and the /ws consumer endpoint.
	// Empty disables both.
	AdminAddr    string
	TickInterval time.Duration
	CorsOrigins  []string
	Auth         AuthConfig
	Session      session.Config
}

type MirrorConfig struct {
	Name        string
	Transport   string
	Address     string
	ConsumerID  string
	Token       string
	MaxAttempts int
	AdminAddr   string
	CorsOrigins []string
	Session     session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:         "scenecast",
		Listen:       ":7400",
		AdminAddr:    ":7480",
		TickInterval: engine.DefaultTickInterval,
		Auth:         AuthConfig{Mode: AuthModeNone},
		Session:      session.DefaultConfig(),
	}
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Name:      "mirror",
		Transport: session.TransportTCP,
		Address:   "127.0.0.1:7400",
		Session:   session.DefaultConfig(),
	}
}

type serverFile struct {
	Name         string      `toml:"name"`
	Listen       string      `toml:"listen"`
	AdminAddr    string      `toml:"admin_addr"`
	TickInterval string      `toml:"tick_interval"`
	CorsOrigins  []string    `toml:"cors_origins"`
	Auth         authFile    `toml:"auth"`
	Session      sessionFile `toml:"session"`
}

type authFile struct {
	Mode      string `toml:"mode"`
	Token     string `toml:"token"`
	JWTSecret string `toml:"jwt_secret"`
	JWTIssuer string `toml:"jwt_issuer"`
}

type mirrorFile struct {
	Name        string      `toml:"name"`
	Transport   string      `toml:"transport"`
	Address     string      `toml:"address"`
	ConsumerID  string      `toml:"consumer_id"`
	Token       string      `toml:"token"`
	MaxAttempts int         `toml:"max_attempts"`
	AdminAddr   string      `toml:"admin_addr"`
	CorsOrigins []string    `toml:"cors_origins"`
	Session     sessionFile `toml:"session"`
}

// LoadServerConfig overlays the keys present in path onto
// DefaultServerConfig.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("tick_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TickInterval))
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse tick_interval: %w", err)
		}
		cfg.TickInterval = d
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("auth", "mode") {
		cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(raw.Auth.Mode))
	}
	if meta.IsDefined("auth", "token") {
		cfg.Auth.Token = raw.Auth.Token
	}
	if meta.IsDefined("auth", "jwt_secret") {
		cfg.Auth.JWTSecret = raw.Auth.JWTSecret
	}
	if meta.IsDefined("auth", "jwt_issuer") {
		cfg.Auth.JWTIssuer = strings.TrimSpace(raw.Auth.JWTIssuer)
	}
	if err := applySession(meta, raw.Session, &cfg.Session); err != nil {
		return ServerConfig{}, err
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadMirrorConfig overlays the keys present in path onto
// DefaultMirrorConfig.
func LoadMirrorConfig(path string) (MirrorConfig, error) {
	cfg := DefaultMirrorConfig()

	var raw mirrorFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return MirrorConfig{}, fmt.Errorf("load mirror config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("consumer_id") {
		cfg.ConsumerID = strings.TrimSpace(raw.ConsumerID)
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if err := applySession(meta, raw.Session, &cfg.Session); err != nil {
		return MirrorConfig{}, err
	}

	if err := ValidateMirrorConfig(cfg); err != nil {
		return MirrorConfig{}, err
	}
	return cfg, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: server config missing name", ErrInvalidConfig)
	}
	if cfg.Listen == "" && cfg.AdminAddr == "" {
		return fmt.Errorf("%w: server config needs listen or admin_addr", ErrInvalidConfig)
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	}
	switch cfg.Auth.Mode {
	case "", AuthModeNone:
	case AuthModeToken:
		if cfg.Auth.Token == "" {
			return fmt.Errorf("%w: auth mode token requires auth.token", ErrInvalidConfig)
		}
	case AuthModeJWT:
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("%w: auth mode jwt requires auth.jwt_secret", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown auth mode %q", ErrInvalidConfig, cfg.Auth.Mode)
	}
	if cfg.Listen != "" {
		if err := cfg.Session.WithDefaults().ValidateServerTransport(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func ValidateMirrorConfig(cfg MirrorConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: mirror config missing name", ErrInvalidConfig)
	}
	if cfg.Address == "" {
		return fmt.Errorf("%w: mirror config missing address", ErrInvalidConfig)
	}
	switch cfg.Transport {
	case session.TransportTCP:
		if err := cfg.Session.WithDefaults().ValidateClientTransport(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	case session.TransportWebSocket:
		if !strings.HasPrefix(cfg.Address, "ws://") && !strings.HasPrefix(cfg.Address, "wss://") {
			return fmt.Errorf("%w: websocket address must be a ws:// or wss:// url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalidConfig)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
