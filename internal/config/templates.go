package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "mirror":
		return mirrorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "wall"
listen = ":7400"
admin_addr = ":7480"
tick_interval = "33ms"
cors_origins = ["http://localhost:3000"]

[auth]
mode = "token"
token = "change-me"

[session]
heartbeat_interval = "5s"
send_queue = 64
security_mode = "development"

[session.tls]
enabled = false
`

const mirrorTemplate = `name = "mirror-1"
transport = "tcp"
address = "127.0.0.1:7400"
token = "change-me"
admin_addr = ":7481"

[session]
read_timeout = "30s"
security_mode = "development"

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
