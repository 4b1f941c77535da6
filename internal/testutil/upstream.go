// Package testutil holds fixtures shared by package tests: a scripted upstream
// server, an event recorder and a manually advanced clock.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// Upstream is a scripted HTTP server standing in for a remote host. Every
// response body echoes the request URI.
type Upstream struct {
	server *httptest.Server
	hits   atomic.Int32

	mu       sync.Mutex
	statuses []int
	header   http.Header
	held     chan struct{}
	last     http.Header
}

// NewUpstream starts a server answering 200 until scripted otherwise. It is
// released and closed when the test ends.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()
	u := &Upstream{header: http.Header{}}
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(func() {
		u.Release()
		u.server.Close()
	})
	return u
}

// WithStatuses scripts response codes in order; the last one repeats
func (u *Upstream) WithStatuses(codes ...int) *Upstream {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = codes
	return u
}

// WithHeader adds a header to every response
func (u *Upstream) WithHeader(key, value string) *Upstream {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.header.Set(key, value)
	return u
}

// Hold blocks new requests until Release is called or the client goes away.
// Held requests are already counted in Hits.
func (u *Upstream) Hold() *Upstream {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.held == nil {
		u.held = make(chan struct{})
	}
	return u
}

// Release lets held requests complete
func (u *Upstream) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.held != nil {
		close(u.held)
		u.held = nil
	}
}

// URL returns the base URL, e.g. "http://127.0.0.1:41234"
func (u *Upstream) URL() string {
	return u.server.URL
}

// HostKey returns the scheme-qualified authority of the server
func (u *Upstream) HostKey() string {
	return "http://" + u.server.Listener.Addr().String()
}

// LastHeader returns the headers of the most recent request
func (u *Upstream) LastHeader() http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last.Clone()
}

// Hits returns how many requests reached the server
func (u *Upstream) Hits() int {
	return int(u.hits.Load())
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	n := int(u.hits.Add(1))

	u.mu.Lock()
	u.last = r.Header.Clone()
	held := u.held
	status := http.StatusOK
	if len(u.statuses) > 0 {
		status = u.statuses[min(n, len(u.statuses))-1]
	}
	header := u.header.Clone()
	u.mu.Unlock()

	if held != nil {
		select {
		case <-held:
		case <-r.Context().Done():
			return
		}
	}

	for key, values := range header {
		w.Header()[key] = values
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, r.URL.RequestURI())
}
