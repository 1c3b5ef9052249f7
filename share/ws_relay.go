package rtshare

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/sizestr"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{TunnelProtocolVersion},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ConnectRequest is the JSON handshake a websocket tunnel client sends
// after the upgrade completes. Port names the target port on the relay
// host; Socks instead asks the relay to speak SOCKS5 on the tunnel.
type ConnectRequest struct {
	Port  int  `json:"port"`
	Socks bool `json:"socks,omitempty"`
}

// ConnectResponse is the relay's answer to a ConnectRequest
type ConnectResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

const wsHandshakeTimeout = 10 * time.Second

// serveWebSocket upgrades the request and bridges the websocket to the
// requested target, either as a raw byte pipe to one port or as a
// SOCKS5 session.
func (s *RelayServer) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.DLogf("websocket upgrade failed: %s", err)
		return
	}
	id := s.wsStats.New()
	logger := s.Fork("ws#%d", id)
	s.wsStats.Open()
	defer s.wsStats.Close()
	defer ws.Close()

	if ws.Subprotocol() != TunnelProtocolVersion {
		logger.DLogf("client offered no usable subprotocol")
		return
	}

	ws.SetReadDeadline(time.Now().Add(wsHandshakeTimeout))
	var cr ConnectRequest
	if err := ws.ReadJSON(&cr); err != nil {
		logger.DLogf("bad connect request: %s", err)
		return
	}
	ws.SetReadDeadline(time.Time{})

	if cr.Socks {
		s.serveWebSocketSocks(logger, ws)
		return
	}
	s.serveWebSocketForward(logger, ws, cr.Port)
}

func (s *RelayServer) serveWebSocketSocks(logger Logger, ws *websocket.Conn) {
	if s.socksServer == nil {
		wsRefuse(ws, "SOCKS5 mode is not enabled")
		return
	}
	if err := ws.WriteJSON(ConnectResponse{OK: true}); err != nil {
		return
	}
	conn := NewWebSocketConn(ws)
	logger.DLogf("SOCKS5 session starting %s", s.wsStats.String())
	err := s.socksServer.ServeConn(conn)
	logger.DLogf("SOCKS5 session done (%v)", err)
}

func (s *RelayServer) serveWebSocketForward(logger Logger, ws *websocket.Conn, port int) {
	if err := s.checkPortPolicy(port); err != nil {
		wsRefuse(ws, err.Error())
		return
	}
	addr := net.JoinHostPort(s.config.RemoteHost, strconv.Itoa(port))
	target, err := net.DialTimeout("tcp", addr, s.config.DialTimeout)
	if err != nil {
		wsRefuse(ws, "could not connect to local port "+strconv.Itoa(port))
		logger.DLogf("dial %s failed: %s", addr, err)
		return
	}
	if err := ws.WriteJSON(ConnectResponse{OK: true}); err != nil {
		target.Close()
		return
	}

	s.metrics.ActiveForwards.Inc()
	defer s.metrics.ActiveForwards.Dec()
	logger.DLogf("open port %d %s", port, s.wsStats.String())

	conn := NewWebSocketConn(ws)
	sent, received := Pipe(conn, target)
	s.metrics.RelayBytes.WithLabelValues("to_target").Add(float64(sent))
	s.metrics.RelayBytes.WithLabelValues("from_target").Add(float64(received))
	logger.DLogf("close port %d (sent %s received %s) %s",
		port, sizestr.ToString(sent), sizestr.ToString(received), s.wsStats.String())
}

// wsRefuse answers the handshake negatively and closes the tunnel
func wsRefuse(ws *websocket.Conn, reason string) {
	ws.WriteJSON(ConnectResponse{OK: false, Error: reason})
}
