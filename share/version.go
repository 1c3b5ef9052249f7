package rtshare

// BuildVersion is the version reported by the relay server; it is
// overridden at build time with -ldflags
var BuildVersion = "0.0.0-src"

// TunnelProtocolVersion is the websocket subprotocol spoken between the
// websocket tunnel socket factory and the relay server. A client offering
// a different subprotocol is refused before any payload bytes flow.
const TunnelProtocolVersion = "bsc-rmitunnel-v1"
