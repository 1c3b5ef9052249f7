package rtshare

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

// newTestTunnelFactory points an HTTPTunnelSocketFactory at an httptest
// relay, returning the factory and the host to dial
func newTestTunnelFactory(t *testing.T, ts *httptest.Server) (*HTTPTunnelSocketFactory, string) {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	gatewayPort, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	f := NewHTTPTunnelSocketFactory(NewLogger("test", LogLevelError))
	f.GatewayPort = gatewayPort
	return f, u.Hostname()
}

func TestHTTPSendSocketRoundTrip(t *testing.T) {
	targetPort := startTarget(t, func(body []byte) string {
		return echoResponse(append([]byte("re:"), body...))
	})
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestTunnelFactory(t, ts)
	conn, err := factory.Dial(host, targetPort)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		msg := []byte(fmt.Sprintf("call %d", i))
		if _, err := conn.Write(msg); err != nil {
			t.Fatal(err)
		}
		want := append([]byte("re:"), msg...)
		got := make([]byte, len(want))
		if _, err := io.ReadFull(conn, got); err != nil {
			t.Fatalf("round trip %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("round trip %d: got %q want %q", i, got, want)
		}
	}
}

func TestHTTPSendSocketReadWithoutWrite(t *testing.T) {
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestTunnelFactory(t, ts)
	conn, err := factory.Dial(host, 2004)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("read with no pending message: n=%d err=%v", n, err)
	}
}

func TestHTTPSendSocketRelayErrorSurfacesOnRead(t *testing.T) {
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestTunnelFactory(t, ts)
	// privileged port: the relay refuses the forward
	conn, err := factory.Dial(host, 1023)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("call")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 8)
	if _, err := conn.Read(buf); err == nil || err == io.EOF {
		t.Fatalf("expected relay error, got %v", err)
	}
}

func TestHTTPSendSocketWriteAfterClose(t *testing.T) {
	relay := newTestRelay(t, nil)
	ts := httptest.NewServer(relay)
	defer ts.Close()

	factory, host := newTestTunnelFactory(t, ts)
	conn, err := factory.Dial(host, 2004)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte("late")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestHTTPTunnelFactoryRejectsBadPort(t *testing.T) {
	f := NewHTTPTunnelSocketFactory(NewLogger("test", LogLevelError))
	if _, err := f.Dial("localhost", 0); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := f.Dial("localhost", 70000); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestHTTPTunnelFactoryCannotListen(t *testing.T) {
	f := NewHTTPTunnelSocketFactory(NewLogger("test", LogLevelError))
	if _, err := f.Listen(0); err == nil {
		t.Error("expected listen to fail")
	}
}
