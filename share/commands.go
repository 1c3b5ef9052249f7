package rtshare

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
)

var osHostname = os.Hostname

// commandHandler executes one relay command. The param is the raw text
// after "=" in the query string, which may be empty. Handlers report
// request problems with clientErrorf and relay-side failures with
// serverErrorf; any other error is treated as a server error.
type commandHandler interface {
	Execute(w http.ResponseWriter, r *http.Request, param string, body []byte) error
}

// clientError describes a malformed or disallowed request; it renders as
// an HTTP 400 error page.
type clientError struct {
	msg string
}

func (e *clientError) Error() string {
	return e.msg
}

func clientErrorf(format string, args ...interface{}) error {
	return &clientError{msg: fmt.Sprintf(format, args...)}
}

// serverError describes a relay-side failure; it renders as an HTTP 500
// error page.
type serverError struct {
	msg string
}

func (e *serverError) Error() string {
	return e.msg
}

func serverErrorf(format string, args ...interface{}) error {
	return &serverError{msg: fmt.Sprintf(format, args...)}
}

// writeOctets sends a 200 response with the given opaque payload
func writeOctets(w http.ResponseWriter, payload []byte) error {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(payload)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(payload)
	return err
}

// requestServerName reports the host the client addressed, without any
// port suffix, falling back to the local hostname when the request
// carried no Host header.
func requestServerName(r *http.Request) string {
	name, _ := requestHostPort(r)
	if name == "" {
		if h, err := localHostname(); err == nil {
			name = h
		}
	}
	return name
}

// localHostname reports this relay host's own name. Diagnostic commands
// must answer from local state only, so no resolver lookups are attempted.
func localHostname() (string, error) {
	return osHostname()
}

// gethostnameCommand returns, as octets, a name for the relay host that is
// resolvable from the client's side of the firewall: the name the client
// addressed the gateway by, or the local hostname when none was given.
type gethostnameCommand struct{}

func (c *gethostnameCommand) Execute(w http.ResponseWriter, r *http.Request, param string, body []byte) error {
	name := requestServerName(r)
	if name == "" {
		return serverErrorf("could not determine host name")
	}
	return writeOctets(w, []byte(name))
}

// pingCommand returns an empty 200 so clients can probe relay liveness
type pingCommand struct{}

func (c *pingCommand) Execute(w http.ResponseWriter, r *http.Request, param string, body []byte) error {
	return writeOctets(w, nil)
}

// hostnameCommand returns a human-readable HTML page naming the host both
// as the relay knows itself and as the client addressed it, for diagnosing
// NAT or proxy host-name mismatches.
type hostnameCommand struct{}

func (c *hostnameCommand) Execute(w http.ResponseWriter, r *http.Request, param string, body []byte) error {
	name, err := localHostname()
	if err != nil {
		return serverErrorf("could not determine host name: %s", err)
	}
	reqHost, reqPort := requestHostPort(r)
	var b strings.Builder
	b.WriteString("<HTML><HEAD><TITLE>Java RMI Server Hostname Info</TITLE></HEAD><BODY>")
	b.WriteString("<H1>Java RMI Server Hostname Info</H1>")
	b.WriteString("<H2>Local host name available to Java VM:</H2><P>")
	b.WriteString(name)
	b.WriteString("<H2>Server host information obtained through request interface:</H2>")
	b.WriteString("<UL><LI>Server name: ")
	b.WriteString(reqHost)
	if reqPort != "" {
		b.WriteString("<LI>Server port: ")
		b.WriteString(reqPort)
	}
	b.WriteString("</UL>")
	b.WriteString("</BODY></HTML>")
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, err = fmt.Fprint(w, b.String())
	return err
}

// requestHostPort splits the name and port the client addressed the relay
// by; port is empty when the Host header carried none
func requestHostPort(r *http.Request) (string, string) {
	if host, port, err := net.SplitHostPort(r.Host); err == nil {
		return host, port
	}
	return r.Host, ""
}

// writeErrorPage renders the HTML error page RMI-over-HTTP clients expect
func writeErrorPage(w http.ResponseWriter, status int, detail string) {
	title := "Java RMI Server Error"
	if status == http.StatusBadRequest {
		title = "Java RMI Client Error"
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	fmt.Fprintf(w,
		"<HTML><HEAD><TITLE>%s</TITLE></HEAD><BODY><H1>%s</H1>%s</BODY></HTML>",
		title, title, detail)
}
