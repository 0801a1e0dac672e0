// Package config loads the server and client programs' TOML files and
// overlays the keys they set onto the package defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/omochice/tcp-simple/internal/client"
	"github.com/omochice/tcp-simple/internal/server"
)

const (
	ModeEcho = "echo"
	ModeChat = "chat"
)

// Server is the server program's configuration.
type Server struct {
	Options server.Options
	// Mode selects the message handler: ModeEcho or ModeChat.
	Mode string
	// AdminAddr, when set, serves /metrics, /healthz and /clients.
	AdminAddr string
	LogLevel  string
}

// Client is the client program's configuration.
type Client struct {
	Options client.Options
	// Username switches the client to chat envelopes.
	Username string
	LogLevel string
}

// DefaultServer returns the server configuration used when no file is given.
func DefaultServer() Server {
	return Server{Options: server.DefaultOptions(), Mode: ModeEcho}
}

// DefaultClient returns the client configuration used when no file is given.
func DefaultClient() Client {
	return Client{Options: client.DefaultOptions()}
}

// server config.toml key mapping to server.Options.
type serverFile struct {
	Address               string `toml:"address"`
	Port                  int    `toml:"port"`
	MaxConnections        int    `toml:"max_connections"`
	ReceiveTimeout        string `toml:"receive_timeout"`
	ReceiveTimeoutMS      int64  `toml:"receive_timeout_ms"`
	WriteTimeout          string `toml:"write_timeout"`
	WriteTimeoutMS        int64  `toml:"write_timeout_ms"`
	AdmissionPollInterval string `toml:"admission_poll_interval"`
	AdmissionPollMS       int64  `toml:"admission_poll_interval_ms"`
	InvalidFramePause     string `toml:"invalid_frame_pause"`
	InvalidFramePauseMS   int64  `toml:"invalid_frame_pause_ms"`
	WebSocketEnabled      bool   `toml:"websocket_enabled"`
	WebSocketPort         int    `toml:"websocket_port"`
	WebSocketPath         string `toml:"websocket_path"`
	Mode                  string `toml:"mode"`
	AdminAddr             string `toml:"admin_addr"`
	LogLevel              string `toml:"log_level"`
}

// client config.toml key mapping to client.Options.
type clientFile struct {
	ServerAddress    string `toml:"server_address"`
	ServerPort       int    `toml:"server_port"`
	ConnectTimeout   string `toml:"connect_timeout"`
	ConnectTimeoutMS int64  `toml:"connect_timeout_ms"`
	ReceiveTimeout   string `toml:"receive_timeout"`
	ReceiveTimeoutMS int64  `toml:"receive_timeout_ms"`
	Transport        string `toml:"transport"`
	WebSocketPath    string `toml:"websocket_path"`
	Username         string `toml:"username"`
	LogLevel         string `toml:"log_level"`
}

// LoadServer reads path and overlays the keys it defines onto DefaultServer.
// An empty path returns the defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, nil
	}

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}

	opts := &cfg.Options
	if meta.IsDefined("address") {
		opts.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		opts.Port = raw.Port
	}
	if meta.IsDefined("max_connections") {
		opts.MaxConnections = raw.MaxConnections
	}
	durations := []struct {
		key    string
		text   string
		millis int64
		dst    *time.Duration
	}{
		{"receive_timeout", raw.ReceiveTimeout, raw.ReceiveTimeoutMS, &opts.ReceiveTimeout},
		{"write_timeout", raw.WriteTimeout, raw.WriteTimeoutMS, &opts.WriteTimeout},
		{"admission_poll_interval", raw.AdmissionPollInterval, raw.AdmissionPollMS, &opts.AdmissionPollInterval},
		{"invalid_frame_pause", raw.InvalidFramePause, raw.InvalidFramePauseMS, &opts.InvalidFramePause},
	}
	for _, d := range durations {
		if err := overlayDuration(&meta, d.key, d.text, d.millis, d.dst); err != nil {
			return Server{}, fmt.Errorf("load server config: %w", err)
		}
	}
	if meta.IsDefined("websocket_enabled") {
		opts.EnableWebSocket = raw.WebSocketEnabled
	}
	if meta.IsDefined("websocket_port") {
		opts.WebSocketPort = raw.WebSocketPort
	}
	if meta.IsDefined("websocket_path") {
		opts.WebSocketPath = strings.TrimSpace(raw.WebSocketPath)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

// Validate checks the server options and the program settings.
func (c Server) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	if c.Mode != ModeEcho && c.Mode != ModeChat {
		return fmt.Errorf("unsupported mode %q (expected %s or %s)", c.Mode, ModeEcho, ModeChat)
	}
	return nil
}

// LoadClient reads path and overlays the keys it defines onto DefaultClient.
// An empty path returns the defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, nil
	}

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}

	opts := &cfg.Options
	if meta.IsDefined("server_address") {
		opts.ServerAddress = strings.TrimSpace(raw.ServerAddress)
	}
	if meta.IsDefined("server_port") {
		opts.ServerPort = raw.ServerPort
	}
	if err := overlayDuration(&meta, "connect_timeout", raw.ConnectTimeout, raw.ConnectTimeoutMS, &opts.ConnectTimeout); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	if err := overlayDuration(&meta, "receive_timeout", raw.ReceiveTimeout, raw.ReceiveTimeoutMS, &opts.ReceiveTimeout); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	if meta.IsDefined("transport") {
		opts.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("websocket_path") {
		opts.WebSocketPath = strings.TrimSpace(raw.WebSocketPath)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := opts.Validate(); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}

// overlayDuration sets dst from key (a duration string) or key_ms
// (milliseconds). Setting both is an error.
func overlayDuration(meta *toml.MetaData, key, text string, millis int64, dst *time.Duration) error {
	msKey := key + "_ms"
	hasText, hasMillis := meta.IsDefined(key), meta.IsDefined(msKey)
	switch {
	case hasText && hasMillis:
		return fmt.Errorf("set either %s or %s, not both", key, msKey)
	case hasText:
		d, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	case hasMillis:
		*dst = time.Duration(millis) * time.Millisecond
	}
	return nil
}
