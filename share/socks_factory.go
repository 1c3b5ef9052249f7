package rtshare

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/proxy"
)

// SOCKSSocketFactory dials target hosts through a SOCKS5 proxy, typically
// the relay's websocket SOCKS endpoint surfaced on a local port.
type SOCKSSocketFactory struct {
	Logger

	// ProxyAddr is the "host:port" of the SOCKS5 proxy.
	ProxyAddr string

	// Auth holds optional username/password credentials.
	Auth *proxy.Auth
}

// NewSOCKSSocketFactory returns a factory routing through proxyAddr
func NewSOCKSSocketFactory(logger Logger, proxyAddr string) *SOCKSSocketFactory {
	return &SOCKSSocketFactory{
		Logger:    logger.Fork("socks"),
		ProxyAddr: proxyAddr,
	}
}

// Dial implements SocketFactory
func (f *SOCKSSocketFactory) Dial(host string, port int) (net.Conn, error) {
	d, err := proxy.SOCKS5("tcp", f.ProxyAddr, f.Auth, proxy.Direct)
	if err != nil {
		return nil, f.Errorf("socks5 dialer for %s: %s", f.ProxyAddr, err)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, f.Errorf("socks5 dial %s via %s: %s", addr, f.ProxyAddr, err)
	}
	f.DLogf("socks5 connection established to %s", addr)
	return conn, nil
}

// Listen implements SocketFactory; SOCKS5 as used here is outbound only
func (f *SOCKSSocketFactory) Listen(port int) (net.Listener, error) {
	return nil, fmt.Errorf("socks socket factory cannot create server sockets")
}
