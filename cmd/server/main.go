package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omochice/tcp-simple/internal/chat"
	"github.com/omochice/tcp-simple/internal/config"
	"github.com/omochice/tcp-simple/internal/observability"
	"github.com/omochice/tcp-simple/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath     string
		address        string
		port           int
		maxConnections int
		receiveTimeout time.Duration
		writeTimeout   time.Duration
		webSocket      bool
		webSocketPort  int
		mode           string
		adminAddr      string
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "tcpsimple-server",
		Short: "Serve length-prefixed text messages over TCP",
		Long: `tcpsimple-server accepts framed text messages over TCP, and optionally
over WebSocket on a second port.

In echo mode every message is answered with "received: <message>".
In chat mode messages are JSON envelopes relayed to every other client.

Examples:
  tcpsimple-server
  tcpsimple-server --port 9000 --max-connections 10
  tcpsimple-server --mode chat --ws --admin-addr 127.0.0.1:9100`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Options.Address = address
			}
			if flags.Changed("port") {
				cfg.Options.Port = port
			}
			if flags.Changed("max-connections") {
				cfg.Options.MaxConnections = maxConnections
			}
			if flags.Changed("receive-timeout") {
				cfg.Options.ReceiveTimeout = receiveTimeout
			}
			if flags.Changed("write-timeout") {
				cfg.Options.WriteTimeout = writeTimeout
			}
			if flags.Changed("ws") {
				cfg.Options.EnableWebSocket = webSocket
			}
			if flags.Changed("ws-port") {
				cfg.Options.WebSocketPort = webSocketPort
			}
			if flags.Changed("mode") {
				cfg.Mode = mode
			}
			if flags.Changed("admin-addr") {
				cfg.AdminAddr = adminAddr
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	flags.StringVar(&address, "addr", "", "Bind address (default 0.0.0.0)")
	flags.IntVarP(&port, "port", "p", 0, "TCP port (default 8888)")
	flags.IntVar(&maxConnections, "max-connections", 0, "Maximum registered clients (default 100)")
	flags.DurationVar(&receiveTimeout, "receive-timeout", 0, "Per-frame receive timeout, 0 disables (default 30s)")
	flags.DurationVar(&writeTimeout, "write-timeout", 0, "Per-frame write timeout, 0 disables (default 10s)")
	flags.BoolVar(&webSocket, "ws", false, "Also accept WebSocket clients")
	flags.IntVar(&webSocketPort, "ws-port", 0, "WebSocket port (default 8889)")
	flags.StringVarP(&mode, "mode", "m", "", "Message handler: echo or chat (default echo)")
	flags.StringVar(&adminAddr, "admin-addr", "", "Serve /metrics, /healthz and /clients on this address")
	flags.StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	return cmd
}

func run(cfg config.Server) error {
	log := observability.NewLogger("tcpsimple-server", cfg.LogLevel, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := cfg.Options
	opts.Logger = log
	opts.Metrics = observability.NewMetrics(reg, observability.DefaultNamespace)

	var srv *server.Server
	handlers := server.Handlers{
		OnError: func(err error) {
			log.Debug().Err(err).Msg("Server reported error")
		},
	}
	switch cfg.Mode {
	case config.ModeChat:
		room := chat.NewRoom(log)
		handlers.OnMessage = func(s *server.Server, clientID, message string) {
			room.HandleMessage(s, clientID, message)
		}
		handlers.OnClientDisconnected = func(clientID string) {
			room.HandleDisconnect(srv, clientID)
		}
	default:
		handlers.OnMessage = echo(log)
	}

	srv, err := server.New(opts, handlers)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           newAdminRouter(reg, srv),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.AdminAddr).Msg("Admin server started")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin server error")
			}
		}()
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown")
		}
	}
	srv.Stop()
	return nil
}

// echo answers every message with "received: <message>".
func echo(log zerolog.Logger) server.MessageHandler {
	return func(srv *server.Server, clientID, message string) {
		log.Info().Str("client", clientID).Str("message", message).Msg("Received")
		srv.SendToClient(clientID, "received: "+message)
	}
}
