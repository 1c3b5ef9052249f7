package rtshare

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

type portRange struct {
	lo, hi int
}

// PortAllowlist restricts which target ports the forward command may relay
// to, beyond the built-in unprivileged-ports rule. It is loaded from a text
// file with one port or inclusive "lo-hi" range per line; blank lines and
// lines starting with '#' are ignored. The file is watched and reloaded on
// change; a reload failure keeps the previous table.
type PortAllowlist struct {
	ShutdownHelper
	path    string
	watcher *fsnotify.Watcher

	// ranges is guarded by Lock
	ranges []portRange
}

// NewPortAllowlist loads an allowlist from path and starts watching the file
// for changes. Fails if the initial load fails.
func NewPortAllowlist(logger Logger, path string) (*PortAllowlist, error) {
	a := &PortAllowlist{path: path}
	a.InitShutdownHelper(logger.Fork("allowlist %s", path), a)
	if err := a.load(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, a.Errorf("Unable to create file watcher: %s", err)
	}
	if err = watcher.Add(path); err != nil {
		watcher.Close()
		return nil, a.Errorf("Unable to watch allow file: %s", err)
	}
	a.watcher = watcher
	a.PanicOnError(a.Activate())
	go a.watch()
	return a, nil
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It
// should take completionError as an advisory completion value, actually shut
// down, then return the real completion value.
func (a *PortAllowlist) HandleOnceShutdown(completionErr error) error {
	err := a.watcher.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Allows returns true if port is covered by the allowlist
func (a *PortAllowlist) Allows(port int) bool {
	a.Lock.Lock()
	defer a.Lock.Unlock()
	for _, r := range a.ranges {
		if port >= r.lo && port <= r.hi {
			return true
		}
	}
	return false
}

func (a *PortAllowlist) watch() {
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				// editors typically replace the file wholesale; re-arm the
				// watch on the new inode before reloading
				if err := a.watcher.Add(a.path); err != nil {
					a.WLogf("Allow file went away and could not be re-watched: %s", err)
					continue
				}
			} else if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if err := a.load(); err != nil {
				a.WLogf("Reload failed, keeping previous table: %s", err)
			} else {
				a.ILogf("Reloaded")
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.WLogf("File watcher error: %s", err)
		}
	}
}

func (a *PortAllowlist) load() error {
	f, err := os.Open(a.path)
	if err != nil {
		return a.Errorf("Unable to open allow file: %s", err)
	}
	defer f.Close()

	var ranges []portRange
	lineno := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parsePortRange(line)
		if err != nil {
			return a.Errorf("Line %d: %s", lineno, err)
		}
		ranges = append(ranges, r)
	}
	if err = scanner.Err(); err != nil {
		return a.Errorf("Unable to read allow file: %s", err)
	}

	a.Lock.Lock()
	a.ranges = ranges
	a.Lock.Unlock()
	return nil
}

func parsePortRange(s string) (portRange, error) {
	var r portRange
	var err error
	if lo, hi, found := strings.Cut(s, "-"); found {
		r.lo, err = strconv.Atoi(strings.TrimSpace(lo))
		if err == nil {
			r.hi, err = strconv.Atoi(strings.TrimSpace(hi))
		}
	} else {
		r.lo, err = strconv.Atoi(s)
		r.hi = r.lo
	}
	if err != nil {
		return r, fmt.Errorf("invalid port range %q", s)
	}
	if r.lo < 1 || r.hi > 65535 || r.lo > r.hi {
		return r, fmt.Errorf("port range %q out of bounds", s)
	}
	return r, nil
}
