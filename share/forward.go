package rtshare

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// forwardCommand relays one embedded RMI call to a server port on the
// relay host and returns the embedded response.
type forwardCommand struct {
	server *RelayServer
}

func (c *forwardCommand) Execute(w http.ResponseWriter, r *http.Request, param string, body []byte) error {
	port, err := c.server.checkForwardPort(param)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		// nothing to forward; answer without bothering the target
		return writeOctets(w, nil)
	}
	payload, err := c.server.relayRoundTrip(port, body)
	if err != nil {
		return err
	}
	return writeOctets(w, payload)
}

// checkForwardPort validates the port parameter of a forward request
// against syntax, range, privilege, and allowlist policy.
func (s *RelayServer) checkForwardPort(param string) (int, error) {
	port, err := strconv.Atoi(param)
	if err != nil {
		return 0, clientErrorf("invalid port number: %s", param)
	}
	if err := s.checkPortPolicy(port); err != nil {
		return 0, err
	}
	return port, nil
}

// checkPortPolicy applies the range, privilege and allowlist rules shared
// by the forward command and the websocket tunnel.
func (s *RelayServer) checkPortPolicy(port int) error {
	if port <= 0 || port > 0xFFFF {
		return clientErrorf("invalid port: %d", port)
	}
	if port < 1024 {
		return clientErrorf("permission denied for port: %d", port)
	}
	if s.allowlist != nil && !s.allowlist.Allows(port) {
		return clientErrorf("permission denied for port: %d", port)
	}
	return nil
}

// relayRoundTrip opens a connection to the target port, submits the call
// payload wrapped in a minimal HTTP/1.0 POST, and reads back the
// embedded response body. The target speaks plain RMI-over-HTTP, so the
// response header scan only cares about Content-length; when the header
// repeats, the last occurrence wins.
func (s *RelayServer) relayRoundTrip(port int, body []byte) ([]byte, error) {
	addr := net.JoinHostPort(s.config.RemoteHost, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, s.config.DialTimeout)
	if err != nil {
		return nil, serverErrorf("could not connect to local port %d: %s", port, err)
	}
	defer conn.Close()
	s.metrics.ActiveForwards.Inc()
	defer s.metrics.ActiveForwards.Dec()
	if s.config.ResponseTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.config.ResponseTimeout))
	}

	var req strings.Builder
	fmt.Fprintf(&req, "POST / HTTP/1.0\r\n")
	fmt.Fprintf(&req, "Content-length: %d\r\n", len(body))
	fmt.Fprintf(&req, "\r\n")
	if _, err := io.WriteString(conn, req.String()); err != nil {
		return nil, serverErrorf("error writing to local port %d: %s", port, err)
	}
	if _, err := conn.Write(body); err != nil {
		return nil, serverErrorf("error writing to local port %d: %s", port, err)
	}
	s.metrics.RelayBytes.WithLabelValues("to_target").Add(float64(len(body)))

	br := bufio.NewReader(conn)
	respLen, err := scanContentLength(br)
	if err != nil {
		return nil, serverErrorf("error reading response from local port %d: %s", port, err)
	}
	payload := make([]byte, respLen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, serverErrorf("error reading response from local port %d: %s", port, err)
	}
	s.metrics.RelayBytes.WithLabelValues("from_target").Add(float64(len(payload)))
	return payload, nil
}

// scanContentLength consumes header lines up to the blank separator and
// returns the declared body length. A header terminated by a bare "\n"
// is accepted alongside "\r\n".
func scanContentLength(br *bufio.Reader) (int, error) {
	length := -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("unexpected end of header: %s", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "content-length:") {
			v := strings.TrimSpace(line[len("content-length:"):])
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("malformed content-length %q", v)
			}
			length = n
		}
	}
	if length < 0 {
		return 0, fmt.Errorf("missing content-length in response header")
	}
	return length, nil
}
