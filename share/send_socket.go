package rtshare

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPSendSocketConfig configures an HTTPSendSocket
type HTTPSendSocketConfig struct {
	// Logger for session output; a quiet default is used when nil
	Logger Logger

	// HTTPClient used for tunnel round-trips; http.DefaultClient when nil.
	// Per-round-trip deadlines should be imposed with the client's Timeout.
	HTTPClient *http.Client

	// URL is the full relay URL including the forward command query,
	// e.g. "http://gateway:80/?forward=2004"
	URL string
}

// HTTPSendSocket is the client half of the HTTP tunnel: a net.Conn whose
// outbound byte stream is carved into one HTTP POST per RMI call. The RMI
// runtime sees a conventional socket; underneath, each logical message is
// buffered, posted to the relay when the runtime turns around to read the
// reply, and the HTTP response body becomes the socket's inbound bytes.
//
// The session owns at most one active transport at a time: it is armed when
// no outbound message is under construction, and bound from the first byte
// of a message until the message has been handed off. Like a real RMI
// connection, it carries one call in flight at a time; concurrent callers
// must be serialized by the RMI runtime above.
type HTTPSendSocket struct {
	ShutdownHelper
	id     uuid.UUID
	client *http.Client
	url    string
	stream *SendStream

	// out is the outbound message under construction; nil when none pending
	out *bytes.Buffer

	// in is the current response body; nil when none
	in io.ReadCloser
}

// NewHTTPSendSocket creates a new HTTPSendSocket session bound to one relay
// URL. The session starts armed; the first write opens a new message.
func NewHTTPSendSocket(config *HTTPSendSocketConfig) (*HTTPSendSocket, error) {
	logger := config.Logger
	if logger == nil {
		logger = NewLogger("httpsocket", LogLevelError)
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	s := &HTTPSendSocket{
		id:     uuid.New(),
		client: client,
		url:    config.URL,
	}
	s.InitShutdownHelper(logger.Fork("session %.8s", s.id.String()), s)
	s.stream = NewSendStream(s.Logger, s)
	s.PanicOnError(s.Activate())
	return s, nil
}

// WriteNotify begins a new outbound tunnel message; called by the SendStream
// on the first write after a message boundary. Part of the SendStreamOwner
// interface.
func (s *HTTPSendSocket) WriteNotify() (io.Writer, error) {
	if s.IsStartedShutdown() {
		return nil, s.Errorf("Socket is closed")
	}
	if s.in != nil {
		// a new call is starting; whatever remains of the previous response
		// is abandoned
		s.in.Close()
		s.in = nil
	}
	s.DLogf("New outbound message")
	s.out = &bytes.Buffer{}
	return s.out, nil
}

// CloseNotify releases the session's resources; called by the SendStream
// after its final flush. Part of the SendStreamOwner interface.
func (s *HTTPSendSocket) CloseNotify() error {
	return s.Shutdown(nil)
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It
// should take completionError as an advisory completion value, actually shut
// down, then return the real completion value.
func (s *HTTPSendSocket) HandleOnceShutdown(completionErr error) error {
	var err error
	if s.in != nil {
		err = s.in.Close()
		s.in = nil
	}
	s.out = nil
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Write implements net.Conn; bytes pass through the message-boundary stream
func (s *HTTPSendSocket) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// Read implements net.Conn. The first read after a message has been written
// finishes that message, posts it to the relay, and serves bytes from the
// response body; an exhausted response re-arms the session for the next
// round-trip. Reading with no message pending and no response in progress
// reports end-of-stream.
func (s *HTTPSendSocket) Read(p []byte) (int, error) {
	for {
		if s.in != nil {
			n, err := s.in.Read(p)
			if err == io.EOF {
				s.in.Close()
				s.in = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}
		if s.IsStartedShutdown() || s.out == nil || s.out.Len() == 0 {
			return 0, io.EOF
		}
		if err := s.roundTrip(); err != nil {
			return 0, err
		}
	}
}

// roundTrip seals the pending outbound message, posts it to the relay, and
// installs the response body as the session's read side
func (s *HTTPSendSocket) roundTrip() error {
	s.stream.Deactivate()
	msg := s.out
	s.out = nil

	s.DLogf("Posting %d byte message", msg.Len())
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(msg.Bytes()))
	if err != nil {
		return s.Errorf("Bad relay URL '%s': %s", s.url, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.client.Do(req)
	if err != nil {
		return s.Errorf("Tunnel round-trip failed: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return s.Errorf("Relay returned HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/octet-stream") {
		resp.Body.Close()
		return s.Errorf("Relay returned unexpected content type %q", ct)
	}
	s.in = resp.Body
	return nil
}

// Close implements net.Conn; it flushes the message-boundary stream and then
// releases the session, in that order
func (s *HTTPSendSocket) Close() error {
	return s.stream.Close()
}

// tunnelAddr is a synthetic net.Addr for tunneled sockets
type tunnelAddr struct {
	network string
	addr    string
}

func (a tunnelAddr) Network() string { return a.network }
func (a tunnelAddr) String() string  { return a.addr }

// LocalAddr implements net.Conn
func (s *HTTPSendSocket) LocalAddr() net.Addr {
	return tunnelAddr{network: "httptunnel", addr: "session/" + s.id.String()}
}

// RemoteAddr implements net.Conn
func (s *HTTPSendSocket) RemoteAddr() net.Addr {
	return tunnelAddr{network: "httptunnel", addr: s.url}
}

// SetDeadline implements net.Conn. Deadlines cannot be mapped onto a
// buffered message exchange; bound the round-trip with the HTTP client's
// Timeout instead.
func (s *HTTPSendSocket) SetDeadline(t time.Time) error { return nil }

// SetReadDeadline implements net.Conn; see SetDeadline
func (s *HTTPSendSocket) SetReadDeadline(t time.Time) error { return nil }

// SetWriteDeadline implements net.Conn; see SetDeadline
func (s *HTTPSendSocket) SetWriteDeadline(t time.Time) error { return nil }
