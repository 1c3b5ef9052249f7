package rtshare

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeAllowFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAllowlistParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.allow")
	writeAllowFile(t, path, "# rmi registry\n2004\n\n9000-9010\n")

	a, err := NewPortAllowlist(NewLogger("test", LogLevelError), path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	cases := []struct {
		port int
		want bool
	}{
		{2004, true},
		{2005, false},
		{9000, true},
		{9005, true},
		{9010, true},
		{9011, false},
		{80, false},
	}
	for _, c := range cases {
		if got := a.Allows(c.port); got != c.want {
			t.Errorf("Allows(%d) = %v, want %v", c.port, got, c.want)
		}
	}
}

func TestAllowlistBadFile(t *testing.T) {
	logger := NewLogger("test", LogLevelError)
	dir := t.TempDir()

	if _, err := NewPortAllowlist(logger, filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "bad.allow")
	writeAllowFile(t, path, "2004\nnot-a-port\n")
	if _, err := NewPortAllowlist(logger, path); err == nil {
		t.Error("expected error for malformed line")
	}

	writeAllowFile(t, path, "9010-9000\n")
	if _, err := NewPortAllowlist(logger, path); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestAllowlistReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.allow")
	writeAllowFile(t, path, "2004\n")

	a, err := NewPortAllowlist(NewLogger("test", LogLevelError), path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if !a.Allows(2004) || a.Allows(3000) {
		t.Fatal("initial table wrong")
	}

	writeAllowFile(t, path, "3000\n")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.Allows(3000) && !a.Allows(2004) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("allowlist did not reload after rewrite")
}

func TestAllowlistReloadFailureKeepsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.allow")
	writeAllowFile(t, path, "2004\n")

	a, err := NewPortAllowlist(NewLogger("test", LogLevelError), path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	writeAllowFile(t, path, "garbage\n")
	// give the watcher a moment to attempt the reload
	time.Sleep(200 * time.Millisecond)
	if !a.Allows(2004) {
		t.Error("previous table was discarded on failed reload")
	}
}

func TestRelayHonorsAllowlist(t *testing.T) {
	targetPort := startTarget(t, func(body []byte) string {
		return echoResponse(body)
	})

	path := filepath.Join(t.TempDir(), "ports.allow")
	writeAllowFile(t, path, "5000\n")
	relay := newTestRelay(t, &RelayServerConfig{AllowFile: path})
	defer relay.Close()

	ts := httptest.NewServer(relay)
	defer ts.Close()
	resp := postCommand(t, ts, "forward="+strconv.Itoa(targetPort), []byte("call"))
	if resp.StatusCode != 400 {
		t.Fatalf("expected denial, status %d", resp.StatusCode)
	}
}
