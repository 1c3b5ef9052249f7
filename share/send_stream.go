package rtshare

import (
	"io"
)

// streamState tracks whether a SendStream currently has an underlying
// transport bound to it.
type streamState int

const (
	// streamArmed means no transport is bound; the next non-empty write will
	// ask the owner for a fresh one.
	streamArmed streamState = iota

	// streamBound means a transport is bound and writes pass through to it.
	streamBound
)

// SendStreamOwner is the session object a SendStream writes on behalf of.
type SendStreamOwner interface {
	// WriteNotify is called when a write is attempted while the stream is
	// armed. It returns a fresh transport, which the stream binds and uses
	// for all bytes until the next Deactivate.
	WriteNotify() (io.Writer, error)

	// CloseNotify is called when the stream is closed, after the final flush,
	// so the owner can release the session's resources (including any bound
	// transport and pending read-side state).
	CloseNotify() error
}

// SendStream is a byte output stream layered on top of an owning send-socket
// session so that the owner can be notified of attempts to write to it.
//
// The surrounding RMI runtime writes one outgoing message per call without
// any explicit framing; the only observable signal that a new message is
// starting is a write arriving after the owner has deactivated the stream.
// The owner deactivates the stream once a call's bytes have been fully handed
// off, so the next write is guaranteed to be the first byte of a new logical
// message, and the owner can construct a fresh outbound transport for it.
//
// A SendStream is used by one RMI call path at a time; the owning session is
// responsible for serializing calls.
type SendStream struct {
	Logger
	owner SendStreamOwner
	state streamState
	out   io.Writer
}

// NewSendStream creates a new SendStream in the armed state on top of owner
func NewSendStream(logger Logger, owner SendStreamOwner) *SendStream {
	return &SendStream{
		Logger: logger.Fork("sendstream"),
		owner:  owner,
		state:  streamArmed,
	}
}

func (s *SendStream) bind() error {
	out, err := s.owner.WriteNotify()
	if err != nil {
		return err
	}
	s.out = out
	s.state = streamBound
	return nil
}

// Write writes len(p) bytes to the bound transport, first obtaining a fresh
// transport from the owner if the stream is armed. A zero-length write is a
// no-op and never triggers transport acquisition.
func (s *SendStream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.state == streamArmed {
		if err := s.bind(); err != nil {
			return 0, err
		}
	}
	s.TLogf("write %d bytes", len(p))
	return s.out.Write(p)
}

// WriteByte writes a single byte to the stream, with the same transport
// acquisition behavior as Write
func (s *SendStream) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// Deactivate marks this stream as inactive for its owner, so the next write
// will notify the owner and bind a new transport. The reference to the
// current transport is dropped without closing it; closing is the owner's
// responsibility, since the owner may still need to read a pending response
// from the same transport.
func (s *SendStream) Deactivate() {
	s.state = streamArmed
	s.out = nil
}

type flusher interface {
	Flush() error
}

// Flush passes through to the bound transport if one is bound and it supports
// flushing; a no-op while armed.
func (s *SendStream) Flush() error {
	if s.state != streamBound {
		return nil
	}
	if f, ok := s.out.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes the stream, then notifies the owner that the logical
// connection is closing; always in that order.
func (s *SendStream) Close() error {
	err := s.Flush()
	if cerr := s.owner.CloseNotify(); err == nil {
		err = cerr
	}
	return err
}
