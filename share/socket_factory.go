package rtshare

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// SocketFactory produces the client and server sockets an RMI runtime uses
// to reach remote endpoints, mirroring java.rmi.server.RMISocketFactory: the
// client half dials out, the server half accepts callbacks.
type SocketFactory interface {
	// Dial opens a client connection to the RMI endpoint at host:port
	Dial(host string, port int) (net.Conn, error)

	// Listen creates a server socket accepting RMI connections on port;
	// port 0 picks an ephemeral port
	Listen(port int) (net.Listener, error)
}

// DefaultSocketFactory is the platform default: direct TCP on both halves
type DefaultSocketFactory struct {
	// DialTimeout bounds Dial; zero means no timeout
	DialTimeout time.Duration
}

// Dial opens a direct TCP connection to host:port
func (f *DefaultSocketFactory) Dial(host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: f.DialTimeout}
	return d.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Listen creates a TCP listener on port
func (f *DefaultSocketFactory) Listen(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%d", port))
}

// compositeSocketFactory delegates Dial to the client half and Listen to the
// server half
type compositeSocketFactory struct {
	client SocketFactory
	server SocketFactory
}

func (f *compositeSocketFactory) Dial(host string, port int) (net.Conn, error) {
	return f.client.Dial(host, port)
}

func (f *compositeSocketFactory) Listen(port int) (net.Listener, error) {
	return f.server.Listen(port)
}

// SocketFactoryBuilder assembles a SocketFactory from optional client and
// server overrides. Halves that are not overridden default to the platform
// default factory, optionally wrapped for debug traffic tracing. Each
// override may be set at most once; setting one twice is a configuration
// bug and fails the Build. Protocol selection is a build-time decision: the
// built composite performs no runtime fallback probing.
type SocketFactoryBuilder struct {
	logger Logger
	client SocketFactory
	server SocketFactory
	debug  bool
	err    error
}

// NewSocketFactoryBuilder creates a builder. logger may be nil if Debug is
// never enabled.
func NewSocketFactoryBuilder(logger Logger) *SocketFactoryBuilder {
	return &SocketFactoryBuilder{logger: logger}
}

func (b *SocketFactoryBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// ClientFactory overrides the client socket factory; fails the build if one
// is already set
func (b *SocketFactoryBuilder) ClientFactory(f SocketFactory) *SocketFactoryBuilder {
	if b.client != nil {
		b.fail(errors.New("client socket factory already set"))
		return b
	}
	b.client = f
	return b
}

// ServerFactory overrides the server socket factory; fails the build if one
// is already set
func (b *SocketFactoryBuilder) ServerFactory(f SocketFactory) *SocketFactoryBuilder {
	if b.server != nil {
		b.fail(errors.New("server socket factory already set"))
		return b
	}
	b.server = f
	return b
}

// Debug enables a wrapper that logs all socket traffic on any half that is
// not overridden
func (b *SocketFactoryBuilder) Debug(debug bool) *SocketFactoryBuilder {
	b.debug = debug
	return b
}

// Build assembles the composite factory
func (b *SocketFactoryBuilder) Build() (SocketFactory, error) {
	if b.err != nil {
		return nil, b.err
	}
	var def SocketFactory = &DefaultSocketFactory{}
	if b.debug {
		logger := b.logger
		if logger == nil {
			logger = NewLogger("socketfactory", LogLevelTrace)
		}
		def = NewDebugSocketFactory(logger, def)
	}
	client := b.client
	if client == nil {
		client = def
	}
	server := b.server
	if server == nil {
		server = def
	}
	return &compositeSocketFactory{client: client, server: server}, nil
}

// FactoryPair couples the client and server factory for one transport
// protocol
type FactoryPair struct {
	Client SocketFactory
	Server SocketFactory
}

// FallbackChain is an immutable ordered list of factory pairs, from most
// direct to most firewall-tolerant. The chain never races transports at dial
// time; a deployment walks it once when deciding which protocol its sockets
// will use, then builds its composite factory accordingly.
type FallbackChain struct {
	pairs []FactoryPair
}

// NewFallbackChain builds a chain from the given pairs, in order
func NewFallbackChain(pairs ...FactoryPair) *FallbackChain {
	c := &FallbackChain{pairs: make([]FactoryPair, len(pairs))}
	copy(c.pairs, pairs)
	return c
}

// DefaultFallbackChain returns the conventional ordering: direct TCP, then
// the HTTP tunnel, then the websocket tunnel. The default server factory is
// paired with the tunneled client factories, since tunnels cannot carry
// inbound server sockets.
func DefaultFallbackChain(httpFactory *HTTPTunnelSocketFactory, wsFactory *WSTunnelSocketFactory) *FallbackChain {
	def := &DefaultSocketFactory{}
	return NewFallbackChain(
		FactoryPair{Client: def, Server: def},
		FactoryPair{Client: httpFactory, Server: def},
		FactoryPair{Client: wsFactory, Server: def},
	)
}

// Len returns the number of pairs in the chain
func (c *FallbackChain) Len() int {
	return len(c.pairs)
}

// Pairs returns a copy of the chain's ordered factory pairs
func (c *FallbackChain) Pairs() []FactoryPair {
	pairs := make([]FactoryPair, len(c.pairs))
	copy(pairs, c.pairs)
	return pairs
}
