package rtshare

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// DebugSocketFactory wraps another SocketFactory and logs all socket traffic,
// otherwise delegating to the wrapped factory. Useful when diagnosing which
// tunnel protocol a deployment ends up using.
type DebugSocketFactory struct {
	Logger
	inner SocketFactory
	stats ConnStats
}

// NewDebugSocketFactory creates a DebugSocketFactory wrapping inner
func NewDebugSocketFactory(logger Logger, inner SocketFactory) *DebugSocketFactory {
	return &DebugSocketFactory{
		Logger: logger.Fork("debugsocket"),
		inner:  inner,
	}
}

// Dial delegates to the wrapped factory and wraps the resulting conn with
// traffic tracing
func (f *DebugSocketFactory) Dial(host string, port int) (net.Conn, error) {
	conn, err := f.inner.Dial(host, port)
	if err != nil {
		f.ELogf("Dial %s:%d failed: %s", host, port, err)
		return nil, err
	}
	return f.wrap(conn, fmt.Sprintf("dial %s:%d", host, port)), nil
}

// Listen delegates to the wrapped factory and wraps accepted conns with
// traffic tracing
func (f *DebugSocketFactory) Listen(port int) (net.Listener, error) {
	l, err := f.inner.Listen(port)
	if err != nil {
		f.ELogf("Listen on %d failed: %s", port, err)
		return nil, err
	}
	return &debugListener{Listener: l, f: f}, nil
}

func (f *DebugSocketFactory) wrap(conn net.Conn, what string) net.Conn {
	id := f.stats.New()
	f.stats.Open()
	dc := &debugConn{
		Conn:   conn,
		f:      f,
		logger: f.Fork("conn#%d(%s)", id, what),
	}
	dc.logger.DLogf("Open %s", f.stats.String())
	return dc
}

type debugListener struct {
	net.Listener
	f *DebugSocketFactory
}

func (l *debugListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return l.f.wrap(conn, "accept "+conn.RemoteAddr().String()), nil
}

type debugConn struct {
	net.Conn
	f        *DebugSocketFactory
	logger   Logger
	nRead    int64
	nWritten int64
	closed   int32
}

func (c *debugConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		atomic.AddInt64(&c.nRead, int64(n))
		c.logger.TLogf("Read %d bytes", n)
	}
	if err != nil && err != io.EOF {
		c.logger.TLogf("Read error: %s", err)
	}
	return n, err
}

func (c *debugConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		atomic.AddInt64(&c.nWritten, int64(n))
		c.logger.TLogf("Wrote %d bytes", n)
	}
	if err != nil {
		c.logger.TLogf("Write error: %s", err)
	}
	return n, err
}

func (c *debugConn) Close() error {
	err := c.Conn.Close()
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.f.stats.Close()
		c.logger.DLogf("Close (read %s written %s)",
			sizestr.ToString(atomic.LoadInt64(&c.nRead)),
			sizestr.ToString(atomic.LoadInt64(&c.nWritten)))
	}
	return err
}
