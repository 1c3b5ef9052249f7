package rtshare

import (
	"bytes"
	"io"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startRawEcho runs a TCP server that echoes every byte back to the sender
func startRawEcho(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				io.Copy(conn, conn)
				conn.Close()
			}(conn)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

// dialRawWS opens a bare websocket to the relay, bypassing the factory
func dialRawWS(host string, port int) (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{TunnelProtocolVersion},
	}
	ws, _, err := dialer.Dial(u.String(), nil)
	return ws, err
}

func newTestWSFactory(t *testing.T, ts *httptest.Server) (*WSTunnelSocketFactory, string) {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	gatewayPort, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	f := NewWSTunnelSocketFactory(NewLogger("test", LogLevelError))
	f.GatewayPort = gatewayPort
	return f, u.Hostname()
}

func TestWebSocketTunnelRoundTrip(t *testing.T) {
	targetPort := startRawEcho(t)
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	conn, err := factory.Dial(host, targetPort)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	msg := bytes.Repeat([]byte("stream"), 1000)
	if _, err := conn.Write(msg); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Error("echo mismatch")
	}
}

func TestWebSocketTunnelHalfClose(t *testing.T) {
	targetPort := startRawEcho(t)
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	conn, err := factory.Dial(host, targetPort)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := conn.Write([]byte("last words")); err != nil {
		t.Fatal(err)
	}
	hc, ok := conn.(WriteHalfCloser)
	if !ok {
		t.Fatal("tunnel conn does not support half-close")
	}
	if err := hc.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	// the echo still drains after our write side is closed
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "last words" {
		t.Errorf("got %q", got)
	}
}

func TestWebSocketTunnelDrainAfterHalfClose(t *testing.T) {
	// target that consumes its whole request before answering, so the
	// response only exists after the client has half-closed
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				req, err := io.ReadAll(conn)
				if err != nil {
					return
				}
				conn.Write(append([]byte("answer:"), req...))
			}(conn)
		}
	}()
	targetPort := l.Addr().(*net.TCPAddr).Port

	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	conn, err := factory.Dial(host, targetPort)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := conn.Write([]byte("full request")); err != nil {
		t.Fatal(err)
	}
	if err := conn.(WriteHalfCloser).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "answer:full request" {
		t.Errorf("got %q", got)
	}
}

func TestWebSocketTunnelRefusesPrivilegedPort(t *testing.T) {
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	factory.MaxRetryCount = 3
	start := time.Now()
	_, err := factory.Dial(host, 80)
	if err == nil {
		t.Fatal("expected refusal")
	}
	if !strings.Contains(err.Error(), "permission denied for port: 80") {
		t.Errorf("unexpected error: %v", err)
	}
	// a refusal is terminal; no backoff delays should have accrued
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("refusal took %s; retried a terminal error", elapsed)
	}
}

func TestWebSocketTunnelRefusesUnreachablePort(t *testing.T) {
	// grab a port with nothing listening on it
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	if _, err := factory.Dial(host, port); err == nil {
		t.Fatal("expected refusal for unreachable port")
	}
}

func TestWebSocketTunnelSocksDisabled(t *testing.T) {
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)

	// request socks mode by hand: the factory only does port forwards
	conn, err := dialRawWS(host, factory.GatewayPort)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(ConnectRequest{Socks: true}); err != nil {
		t.Fatal(err)
	}
	var cr ConnectResponse
	if err := conn.ReadJSON(&cr); err != nil {
		t.Fatal(err)
	}
	if cr.OK {
		t.Fatal("socks accepted while disabled")
	}
	if !strings.Contains(cr.Error, "not enabled") {
		t.Errorf("unexpected refusal reason %q", cr.Error)
	}
}

func TestWebSocketTunnelSocksConnect(t *testing.T) {
	echoPort := startRawEcho(t)
	relay := newTestRelay(t, &RelayServerConfig{Socks5: true})
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	ws, err := dialRawWS(host, factory.GatewayPort)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(ConnectRequest{Socks: true}); err != nil {
		t.Fatal(err)
	}
	var cr ConnectResponse
	if err := ws.ReadJSON(&cr); err != nil {
		t.Fatal(err)
	}
	if !cr.OK {
		t.Fatalf("socks refused: %s", cr.Error)
	}

	conn := NewWebSocketConn(ws)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	// SOCKS5 method negotiation: version 5, one method, no auth
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	sel := make([]byte, 2)
	if _, err := io.ReadFull(conn, sel); err != nil {
		t.Fatal(err)
	}
	if sel[0] != 0x05 || sel[1] != 0x00 {
		t.Fatalf("method select % x", sel)
	}

	// CONNECT 127.0.0.1:echoPort
	connect := []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1,
		byte(echoPort >> 8), byte(echoPort)}
	if _, err := conn.Write(connect); err != nil {
		t.Fatal(err)
	}
	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		t.Fatal(err)
	}
	if head[1] != 0x00 {
		t.Fatalf("connect failed, rep=%d", head[1])
	}
	var bindLen int
	switch head[3] {
	case 0x01:
		bindLen = 4 + 2
	case 0x04:
		bindLen = 16 + 2
	case 0x03:
		one := make([]byte, 1)
		if _, err := io.ReadFull(conn, one); err != nil {
			t.Fatal(err)
		}
		bindLen = int(one[0]) + 2
	default:
		t.Fatalf("bad bind address type %d", head[3])
	}
	if _, err := io.ReadFull(conn, make([]byte, bindLen)); err != nil {
		t.Fatal(err)
	}

	msg := []byte("through the tunnel")
	if _, err := conn.Write(msg); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Error("echo mismatch through socks session")
	}
}

func TestWebSocketDisabledByConfig(t *testing.T) {
	relay := newTestRelay(t, &RelayServerConfig{NoWebSocket: true})
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestWSFactory(t, ts)
	if _, err := factory.Dial(host, 2004); err == nil {
		t.Fatal("expected upgrade to be rejected")
	}
}
