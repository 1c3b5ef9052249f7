package rtshare

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	socks5 "github.com/armon/go-socks5"
	"github.com/jpillora/requestlog"
	"github.com/prometheus/client_golang/prometheus"
)

// RelayServerConfig is the configuration for the RMI relay service
type RelayServerConfig struct {
	// RemoteHost is the host forwarded calls are relayed to; defaults
	// to the loopback interface, matching the firewall-gateway model
	// where the relay runs on the RMI server host itself.
	RemoteHost string

	// AllowFile optionally names a port allowlist file, hot-reloaded
	// on change. When empty all unprivileged ports are relayable.
	AllowFile string

	// DialTimeout bounds connection attempts to target ports.
	DialTimeout time.Duration

	// ResponseTimeout bounds the full embedded round-trip with a
	// target port; 0 disables the deadline.
	ResponseTimeout time.Duration

	// NoWebSocket disables the websocket tunnel endpoint.
	NoWebSocket bool

	// Socks5 enables SOCKS5 connect mode on websocket tunnels.
	Socks5 bool

	// Registerer receives relay metrics; nil skips registration.
	Registerer prometheus.Registerer

	Debug bool
}

// RelayServer represents an RMI gateway relay service
type RelayServer struct {
	ShutdownHelper
	config      *RelayServerConfig
	commands    map[string]commandHandler
	httpServer  *HTTPServer
	httpHandler http.Handler
	allowlist   *PortAllowlist
	socksServer *socks5.Server
	metrics     *RelayMetrics
	wsStats     ConnStats
}

// NewRelayServer creates and returns a new relay server
func NewRelayServer(config *RelayServerConfig) (*RelayServer, error) {
	logLevel := LogLevelInfo
	if config.Debug {
		logLevel = LogLevelDebug
	}
	logger := NewLogger("relay", logLevel)
	if config.RemoteHost == "" {
		config.RemoteHost = "127.0.0.1"
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	s := &RelayServer{
		config:     config,
		httpServer: NewHTTPServer(logger),
		metrics:    NewRelayMetrics(config.Registerer),
	}
	s.InitShutdownHelper(logger, s)

	if config.AllowFile != "" {
		allowlist, err := NewPortAllowlist(s.Logger, config.AllowFile)
		if err != nil {
			return nil, err
		}
		s.allowlist = allowlist
		s.AddShutdownChild(allowlist)
	}

	if config.Socks5 {
		socksConfig := &socks5.Config{}
		if s.GetLogLevel() >= LogLevelDebug {
			socksConfig.Logger = log.New(os.Stdout, "[socks]", log.Ldate|log.Ltime)
		} else {
			socksConfig.Logger = log.New(io.Discard, "", 0)
		}
		socksServer, err := socks5.New(socksConfig)
		if err != nil {
			return nil, err
		}
		s.socksServer = socksServer
		s.ILogf("SOCKS5 connect mode enabled")
	}

	// the command table is fixed for the life of the server
	s.commands = map[string]commandHandler{
		"forward":     &forwardCommand{server: s},
		"gethostname": &gethostnameCommand{},
		"ping":        &pingCommand{},
		"hostname":    &hostnameCommand{},
	}
	return s, nil
}

// Run is responsible for starting the relay service and serving until
// ctx is cancelled or the server is shut down
func (s *RelayServer) Run(ctx context.Context, host, port string) error {
	err := s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)

			s.ILogf("rmitunnel relay %s", BuildVersion)

			if s.allowlist != nil {
				s.ILogf("Port allowlist loaded from %s", s.config.AllowFile)
			}
			if s.config.NoWebSocket {
				s.ILogf("WebSocket tunnelling disabled")
			}

			s.ILogf("Listening on %s:%s...", host, port)

			h := http.Handler(http.HandlerFunc(s.handleTunnelRequest))

			if s.GetLogLevel() >= LogLevelDebug {
				h = requestlog.Wrap(h)
			}

			s.httpHandler = h

			return nil
		},
		true,
	)

	if err != nil {
		return err
	}

	s.httpServer.ListenAndServe(ctx, host+":"+port, s.httpHandler)

	return s.Close()
}

// ServeHTTP lets the relay be mounted under an existing HTTP server
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleTunnelRequest(w, r)
}

// HandleOnceShutdown will be called exactly once, in its own goroutine.
// It should take completionError as an advisory completion value,
// actually shut down, then return the real completion value.
func (s *RelayServer) HandleOnceShutdown(completionErr error) error {
	s.DLogf("HandleOnceShutdown")
	err := s.httpServer.Close()

	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
