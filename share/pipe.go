package rtshare

import (
	"io"
	"sync"
)

// Pipe concurrently copies in both directions between two socket-like
// objects, returning after both directions have reached end-of-stream and
// both src and dst have been closed. Returns the number of bytes copied
// src->dst and dst->src respectively.
func Pipe(src io.ReadWriteCloser, dst io.ReadWriteCloser) (int64, int64) {
	var sent, received int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		received, _ = io.Copy(src, dst)
		if whc, ok := src.(WriteHalfCloser); ok {
			whc.CloseWrite()
		}
		wg.Done()
	}()
	go func() {
		sent, _ = io.Copy(dst, src)
		if whc, ok := dst.(WriteHalfCloser); ok {
			whc.CloseWrite()
		}
		wg.Done()
	}()
	wg.Wait()
	src.Close()
	dst.Close()
	return sent, received
}
