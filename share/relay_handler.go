package rtshare

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jpillora/sizestr"
)

// handleTunnelRequest is the single entry point for relay traffic. A
// websocket upgrade is routed to the tunnel endpoint; anything else is
// treated as an RMI-over-HTTP command POST.
func (s *RelayServer) handleTunnelRequest(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		if s.config.NoWebSocket {
			writeErrorPage(w, http.StatusBadRequest, "websocket tunnelling is disabled")
			return
		}
		s.serveWebSocket(w, r)
		return
	}
	s.handleCommandRequest(w, r)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func (s *RelayServer) handleCommandRequest(w http.ResponseWriter, r *http.Request) {
	command, param, _ := strings.Cut(r.URL.RawQuery, "=")

	// the command string is client input; anything not in the fixed command
	// table collapses to one label so the metric's label set stays bounded
	metricName := command
	if _, ok := s.commands[command]; !ok {
		metricName = "unknown"
	}

	err := s.dispatchCommand(w, r, command, param)
	if err == nil {
		s.metrics.Requests.WithLabelValues(metricName, "ok").Inc()
		return
	}

	var ce *clientError
	if errors.As(err, &ce) {
		s.DLogf("client error on command %q: %s", command, ce.msg)
		s.metrics.Requests.WithLabelValues(metricName, "client_error").Inc()
		writeErrorPage(w, http.StatusBadRequest, ce.msg)
		return
	}
	msg := err.Error()
	var se *serverError
	if errors.As(err, &se) {
		msg = se.msg
	}
	s.ELogf("server error on command %q: %s", command, msg)
	s.metrics.Requests.WithLabelValues(metricName, "server_error").Inc()
	writeErrorPage(w, http.StatusInternalServerError, msg)
}

func (s *RelayServer) dispatchCommand(w http.ResponseWriter, r *http.Request, command, param string) error {
	if r.Method != http.MethodPost {
		return clientErrorf("can only forward POST requests (got %s)", r.Method)
	}
	if command == "" {
		return clientErrorf("no command specified")
	}
	handler, ok := s.commands[command]
	if !ok {
		return clientErrorf("invalid command: %s", command)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return clientErrorf("error reading request body: %s", err)
	}
	s.DLogf("command %q param %q body %s", command, param, sizestr.ToString(int64(len(body))))
	return s.executeCommand(w, r, handler, param, body)
}

// executeCommand isolates a command handler so a panic in one request
// cannot take down the relay
func (s *RelayServer) executeCommand(
	w http.ResponseWriter,
	r *http.Request,
	handler commandHandler,
	param string,
	body []byte,
) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = serverErrorf("internal error: %v", p)
		}
	}()
	return handler.Execute(w, r, param, body)
}
