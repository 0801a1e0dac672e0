package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omochice/tcp-simple/internal/chat"
	"github.com/omochice/tcp-simple/internal/client"
	"github.com/omochice/tcp-simple/internal/config"
	"github.com/omochice/tcp-simple/internal/observability"
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
		serverAddress  string
		port           int
		connectTimeout time.Duration
		transport      string
		username       string
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "tcpsimple-client",
		Short: "Send lines from stdin as framed messages",
		Long: `tcpsimple-client connects to a tcpsimple server, sends every line read
from stdin as one message and prints what the server sends back.
An empty line, "quit" or "exit" ends the session.

With --username the client speaks the chat envelope: it announces a join,
sends lines as chat text and renders other users' messages.

Examples:
  tcpsimple-client --server 127.0.0.1 --port 8888
  tcpsimple-client --transport ws --port 8889 --username alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.Options.ServerAddress = serverAddress
			}
			if flags.Changed("port") {
				cfg.Options.ServerPort = port
			}
			if flags.Changed("connect-timeout") {
				cfg.Options.ConnectTimeout = connectTimeout
			}
			if flags.Changed("transport") {
				cfg.Options.Transport = transport
			}
			if flags.Changed("username") {
				cfg.Username = username
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Options.Validate(); err != nil {
				return err
			}

			log := observability.NewLogger("tcpsimple-client", cfg.LogLevel, cmd.ErrOrStderr())
			return run(cfg, log, cmd.InOrStdin(), cmd.OutOrStdout(), interrupted())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	flags.StringVarP(&serverAddress, "server", "s", "", "Server address (default 127.0.0.1)")
	flags.IntVarP(&port, "port", "p", 0, "Server port (default 8888)")
	flags.DurationVar(&connectTimeout, "connect-timeout", 0, "Connect timeout (default 5s)")
	flags.StringVarP(&transport, "transport", "t", "", "Transport: tcp or ws (default tcp)")
	flags.StringVarP(&username, "username", "u", "", "Join the chat room under this name")
	flags.StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	return cmd
}

func interrupted() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return sigChan
}

// syncWriter serializes prints from the receive loop and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// Printf formats to the underlying writer.
func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func run(cfg config.Client, log zerolog.Logger, in io.Reader, out io.Writer, stop <-chan os.Signal) error {
	console := &syncWriter{w: out}
	chatMode := cfg.Username != ""
	disconnected := make(chan struct{})

	opts := cfg.Options
	opts.Logger = log
	c, err := client.New(opts, client.Handlers{
		OnMessage: func(text string) {
			if chatMode {
				renderChat(console, text)
				return
			}
			console.Printf("%s\n", text)
		},
		OnError: func(err error) {
			log.Warn().Err(err).Msg("Connection error")
		},
		OnDisconnected: func() {
			close(disconnected)
		},
	})
	if err != nil {
		return err
	}

	if err := c.Connect(); err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer c.Disconnect()
	log.Info().Str("server", c.RemoteAddr()).Msg("Connected")

	send := func(text string) error { return c.Send(text) }
	if chatMode {
		if err := sendEnvelope(c, chat.MessageTypeJoin, cfg.Username, ""); err != nil {
			return fmt.Errorf("failed to join chat: %w", err)
		}
		send = func(text string) error {
			return sendEnvelope(c, chat.MessageTypeText, cfg.Username, text)
		}
	}

	lines := make(chan string)
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-finished:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("Error reading input")
		}
	}()

	console.Printf("Type your messages (empty line, 'quit' or 'exit' to stop):\n")
	for {
		select {
		case <-disconnected:
			console.Printf("Disconnected from server\n")
			return nil
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("Interrupted")
			return leave(c, cfg, chatMode)
		case line, ok := <-lines:
			text := strings.TrimSpace(line)
			if !ok || text == "" || text == "quit" || text == "exit" {
				return leave(c, cfg, chatMode)
			}
			if err := send(line); err != nil {
				log.Warn().Err(err).Msg("Failed to send message")
			}
		}
	}
}

func leave(c *client.Client, cfg config.Client, chatMode bool) error {
	if chatMode && c.IsConnected() {
		if err := sendEnvelope(c, chat.MessageTypeLeave, cfg.Username, ""); err != nil {
			return fmt.Errorf("failed to send leave message: %w", err)
		}
	}
	return nil
}

func sendEnvelope(c *client.Client, typ chat.MessageType, sender, content string) error {
	msg := chat.Message{Type: typ, Sender: sender, Content: content}
	text, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.Send(text)
}

func renderChat(console *syncWriter, text string) {
	var msg chat.Message
	if err := msg.Decode(text); err != nil {
		console.Printf("%s\n", text)
		return
	}
	switch msg.Type {
	case chat.MessageTypeJoin:
		console.Printf("*** %s joined the chat ***\n", msg.Sender)
	case chat.MessageTypeLeave:
		console.Printf("*** %s left the chat ***\n", msg.Sender)
	default:
		console.Printf("[%s]: %s\n", msg.Sender, msg.Content)
	}
}
