package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/scenecast/internal/protocol/session"
)

type sessionFile struct {
	ConnectTimeout   string      `toml:"connect_timeout"`
	HandshakeTimeout string      `toml:"handshake_timeout"`
	ReadTimeout      string      `toml:"read_timeout"`
	WriteTimeout     string      `toml:"write_timeout"`
	Heartbeat        string      `toml:"heartbeat_interval"`
	SendQueue        int         `toml:"send_queue"`
	MaxPayloadBytes  uint64      `toml:"max_payload_bytes"`
	SecurityMode     string      `toml:"security_mode"`
	TLS              tlsFile     `toml:"tls"`
	Backoff          backoffFile `toml:"backoff"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// applySession overlays the [session] table onto out.
func applySession(meta toml.MetaData, raw sessionFile, out *session.Config) error {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &out.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &out.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &out.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &out.WriteTimeout},
		{"heartbeat_interval", raw.Heartbeat, &out.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("session", "send_queue") {
		out.SendQueue = raw.SendQueue
	}
	if meta.IsDefined("session", "max_payload_bytes") {
		out.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("session", "security_mode") {
		out.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	if meta.IsDefined("session", "tls", "enabled") {
		out.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("session", "tls", "mutual") {
		out.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("session", "tls", "cert_file") {
		out.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("session", "tls", "key_file") {
		out.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("session", "tls", "ca_file") {
		out.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("session", "tls", "server_name") {
		out.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("session", "tls", "insecure_skip_verify") {
		out.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if meta.IsDefined("session", "backoff", "initial_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Backoff.InitialDelay))
		if err != nil {
			return fmt.Errorf("parse session.backoff.initial_delay: %w", err)
		}
		out.Backoff.InitialDelay = d
	}
	if meta.IsDefined("session", "backoff", "max_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Backoff.MaxDelay))
		if err != nil {
			return fmt.Errorf("parse session.backoff.max_delay: %w", err)
		}
		out.Backoff.MaxDelay = d
	}
	if meta.IsDefined("session", "backoff", "multiplier") {
		out.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("session", "backoff", "jitter") {
		out.Backoff.Jitter = raw.Backoff.Jitter
	}
	return nil
}
