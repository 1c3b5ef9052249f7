package rtshare

import (
	"bytes"
	"io"
	"testing"
)

// fakeStreamOwner records transport acquisitions and close notifications
type fakeStreamOwner struct {
	acquisitions int
	closes       int
	bufs         []*bytes.Buffer
	writeErr     error
	closeErr     error
}

func (o *fakeStreamOwner) WriteNotify() (io.Writer, error) {
	if o.writeErr != nil {
		return nil, o.writeErr
	}
	o.acquisitions++
	b := &bytes.Buffer{}
	o.bufs = append(o.bufs, b)
	return b, nil
}

func (o *fakeStreamOwner) CloseNotify() error {
	o.closes++
	return o.closeErr
}

func newTestStream(t *testing.T) (*SendStream, *fakeStreamOwner) {
	t.Helper()
	owner := &fakeStreamOwner{}
	logger := NewLogger("test", LogLevelError)
	return NewSendStream(logger, owner), owner
}

func TestSendStreamEmptyWriteDoesNotAcquire(t *testing.T) {
	s, owner := newTestStream(t)
	n, err := s.Write(nil)
	if err != nil || n != 0 {
		t.Fatalf("empty write: n=%d err=%v", n, err)
	}
	n, err = s.Write([]byte{})
	if err != nil || n != 0 {
		t.Fatalf("empty write: n=%d err=%v", n, err)
	}
	if owner.acquisitions != 0 {
		t.Errorf("expected no acquisitions, got %d", owner.acquisitions)
	}
}

func TestSendStreamBindsOnceUntilDeactivated(t *testing.T) {
	s, owner := newTestStream(t)
	if _, err := s.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteByte(' '); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if owner.acquisitions != 1 {
		t.Fatalf("expected 1 acquisition, got %d", owner.acquisitions)
	}
	if got := owner.bufs[0].String(); got != "hello world" {
		t.Errorf("transport got %q", got)
	}

	s.Deactivate()
	if _, err := s.Write([]byte("next")); err != nil {
		t.Fatal(err)
	}
	if owner.acquisitions != 2 {
		t.Fatalf("expected 2 acquisitions after deactivate, got %d", owner.acquisitions)
	}
	if got := owner.bufs[1].String(); got != "next" {
		t.Errorf("second transport got %q", got)
	}
}

func TestSendStreamFlushWhileArmed(t *testing.T) {
	s, owner := newTestStream(t)
	if err := s.Flush(); err != nil {
		t.Fatalf("flush while armed: %v", err)
	}
	s.Write([]byte("x"))
	s.Deactivate()
	if err := s.Flush(); err != nil {
		t.Fatalf("flush after deactivate: %v", err)
	}
	if owner.acquisitions != 1 {
		t.Errorf("flush acquired a transport: %d", owner.acquisitions)
	}
}

func TestSendStreamCloseNotifiesOwner(t *testing.T) {
	s, owner := newTestStream(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if owner.closes != 1 {
		t.Errorf("expected 1 close notification, got %d", owner.closes)
	}

	// close still notifies when a transport is bound
	s2, owner2 := newTestStream(t)
	s2.Write([]byte("pending"))
	if err := s2.Close(); err != nil {
		t.Fatal(err)
	}
	if owner2.closes != 1 {
		t.Errorf("expected 1 close notification, got %d", owner2.closes)
	}
}

func TestSendStreamWriteErrorPropagates(t *testing.T) {
	owner := &fakeStreamOwner{writeErr: io.ErrClosedPipe}
	s := NewSendStream(NewLogger("test", LogLevelError), owner)
	if _, err := s.Write([]byte("x")); err != io.ErrClosedPipe {
		t.Fatalf("expected ErrClosedPipe, got %v", err)
	}
}
