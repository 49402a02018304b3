package admin

import (
	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/protocol/session"
)

// ProducerSource exposes srv, including its hub's consumers and WebSocket
// endpoint.
func ProducerSource(srv *engine.Server, version string) Source {
	return Source{
		Name:      srv.Name(),
		Role:      "producer",
		Version:   version,
		Ready:     srv.Ready,
		Do:        srv.Do,
		Stats:     func() any { return srv.Stats() },
		Consumers: srv.Hub().Peers,
		WebSocket: srv.Hub().WebSocketHandler(),
	}
}

// MirrorSource exposes c. sc may be nil.
func MirrorSource(c *engine.Client, sc *session.Client, version string) Source {
	return Source{
		Name:    c.Name(),
		Role:    "mirror",
		Version: version,
		Ready:   c.Ready,
		Do:      c.Do,
		Stats: func() any {
			stats := map[string]any{"tree": c.Stats()}
			if sc != nil {
				stats["session"] = sc.Stats()
				stats["consumer_id"] = sc.ConsumerID()
			}
			return stats
		},
	}
}
