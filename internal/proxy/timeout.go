package proxy

import (
	"io"
	"time"
)

// idleReadCloser calls onIdle if no Read returns within idle; the timer is
// restarted after every Read. The proxy engine passes a callback that
// closes the upstream response body. Used to implement spec.md §4.3's proxy_timeout: "idle limit on
// either direction once streaming has begun."
type idleReadCloser struct {
	io.ReadCloser
	idle  time.Duration
	timer *time.Timer
}

func newIdleReadCloser(rc io.ReadCloser, idle time.Duration, onIdle func()) io.ReadCloser {
	if idle <= 0 {
		return rc
	}
	return &idleReadCloser{
		ReadCloser: rc,
		idle:       idle,
		timer:      time.AfterFunc(idle, onIdle),
	}
}

func (r *idleReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.timer.Reset(r.idle)
	return n, err
}

func (r *idleReadCloser) Close() error {
	r.timer.Stop()
	return r.ReadCloser.Close()
}
