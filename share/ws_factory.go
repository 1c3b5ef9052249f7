package rtshare

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// WSTunnelSocketFactory dials through the relay gateway's websocket
// endpoint. Each Dial performs a websocket upgrade against the gateway on
// the target host, exchanges a JSON connect handshake, and returns a
// stream-oriented conn bridged to the target port by the relay.
type WSTunnelSocketFactory struct {
	Logger

	// GatewayPort is the HTTP port the relay listens on; 80 if zero.
	GatewayPort int

	// Path is the relay endpoint path; "/" if empty.
	Path string

	// HandshakeTimeout bounds the websocket upgrade and the JSON
	// handshake round-trip. Defaults to 10 seconds.
	HandshakeTimeout time.Duration

	// MaxRetryCount limits redial attempts on transient upgrade
	// failures. 0 means no retries.
	MaxRetryCount int

	// MaxRetryInterval caps the backoff between redial attempts.
	// Defaults to 3 seconds.
	MaxRetryInterval time.Duration
}

// NewWSTunnelSocketFactory returns a factory with default settings
func NewWSTunnelSocketFactory(logger Logger) *WSTunnelSocketFactory {
	return &WSTunnelSocketFactory{
		Logger: logger.Fork("wstunnel"),
	}
}

// Dial implements SocketFactory. Upgrade failures are retried with
// exponential backoff; a relay that refuses the connect request is
// terminal and is not retried.
func (f *WSTunnelSocketFactory) Dial(host string, port int) (net.Conn, error) {
	gatewayPort := f.GatewayPort
	if gatewayPort == 0 {
		gatewayPort = 80
	}
	path := f.Path
	if path == "" {
		path = "/"
	}
	handshakeTimeout := f.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = 10 * time.Second
	}
	maxInterval := f.MaxRetryInterval
	if maxInterval == 0 {
		maxInterval = 3 * time.Second
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(gatewayPort)),
		Path:   path,
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{TunnelProtocolVersion},
	}

	b := &backoff.Backoff{Max: maxInterval}
	var lastErr error
	for attempt := 0; attempt <= f.MaxRetryCount; attempt++ {
		if attempt > 0 {
			d := b.Duration()
			f.DLogf("retrying in %s (attempt %d of %d)", d, attempt, f.MaxRetryCount)
			time.Sleep(d)
		}
		conn, err := f.dialOnce(&dialer, u.String(), port, handshakeTimeout)
		if err == nil {
			return conn, nil
		}
		if _, refused := err.(*relayRefusedError); refused {
			return nil, err
		}
		lastErr = err
		f.DLogf("websocket dial to %s failed: %s", u.String(), err)
	}
	return nil, f.Errorf("websocket tunnel to %s:%d failed: %s", host, port, lastErr)
}

// relayRefusedError indicates the relay completed the handshake but
// declined the connect request; redialing cannot help.
type relayRefusedError struct {
	reason string
}

func (e *relayRefusedError) Error() string {
	return fmt.Sprintf("relay refused connection: %s", e.reason)
}

func (f *WSTunnelSocketFactory) dialOnce(
	dialer *websocket.Dialer,
	urlStr string,
	port int,
	handshakeTimeout time.Duration,
) (net.Conn, error) {
	ws, resp, err := dialer.Dial(urlStr, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket upgrade failed (%s): %s", resp.Status, err)
		}
		return nil, err
	}
	if proto := ws.Subprotocol(); proto != TunnelProtocolVersion {
		ws.Close()
		return nil, fmt.Errorf("relay negotiated unexpected subprotocol %q", proto)
	}

	deadline := time.Now().Add(handshakeTimeout)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(ConnectRequest{Port: port}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("connect request failed: %s", err)
	}
	ws.SetReadDeadline(deadline)
	var cr ConnectResponse
	if err := ws.ReadJSON(&cr); err != nil {
		ws.Close()
		return nil, fmt.Errorf("connect response failed: %s", err)
	}
	ws.SetReadDeadline(time.Time{})
	ws.SetWriteDeadline(time.Time{})
	if !cr.OK {
		ws.Close()
		return nil, &relayRefusedError{reason: cr.Error}
	}
	f.DLogf("websocket tunnel established to port %d", port)
	return NewWebSocketConn(ws), nil
}

// Listen implements SocketFactory; the websocket tunnel has no inbound side
func (f *WSTunnelSocketFactory) Listen(port int) (net.Listener, error) {
	return nil, fmt.Errorf("websocket tunnel factory cannot create server sockets")
}
