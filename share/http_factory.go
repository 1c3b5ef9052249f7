package rtshare

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

// HTTPTunnelSocketFactory creates client sockets that tunnel the RMI byte
// stream through HTTP POSTs to a relay (the java-rmi.cgi replacement)
// reachable on the target host.
type HTTPTunnelSocketFactory struct {
	Logger

	// GatewayPort is the port the relay listens on at the target host;
	// 80 when zero
	GatewayPort int

	// Path is the relay's URL path; "/" when empty
	Path string

	// HTTPClient used for tunnel round-trips; http.DefaultClient when nil
	HTTPClient *http.Client
}

// NewHTTPTunnelSocketFactory creates an HTTPTunnelSocketFactory with default
// settings
func NewHTTPTunnelSocketFactory(logger Logger) *HTTPTunnelSocketFactory {
	return &HTTPTunnelSocketFactory{Logger: logger.Fork("httptunnel")}
}

// Dial opens a tunnel session whose round-trips POST to
// http://host:gatewayPort<path>?forward=<port>
func (f *HTTPTunnelSocketFactory) Dial(host string, port int) (net.Conn, error) {
	if port <= 0 || port > 0xFFFF {
		return nil, f.Errorf("Invalid port: %d", port)
	}
	gatewayPort := f.GatewayPort
	if gatewayPort == 0 {
		gatewayPort = 80
	}
	path := f.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(host, strconv.Itoa(gatewayPort)),
		Path:     path,
		RawQuery: fmt.Sprintf("forward=%d", port),
	}
	f.DLogf("Dialing %s:%d via %s", host, port, u.String())
	return NewHTTPSendSocket(&HTTPSendSocketConfig{
		Logger:     f.Logger,
		HTTPClient: f.HTTPClient,
		URL:        u.String(),
	})
}

// Listen is not supported: inbound server sockets cannot be reached back
// through an HTTP tunnel. Deployments pair this factory with a default
// server factory.
func (f *HTTPTunnelSocketFactory) Listen(port int) (net.Listener, error) {
	return nil, f.Errorf("HTTP tunnel factory cannot create server sockets")
}
