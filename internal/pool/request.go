package pool

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"outbound-pool/internal/common/errors"
)

// Request describes one outbound call. It must not be modified after it has
// been passed to Execute.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// IdempotencyKey overrides the derived deduplication key
	IdempotencyKey string
	// Timeout overrides the per-attempt timeout
	Timeout time.Duration
	// MaxRetries overrides the retry limit
	MaxRetries *int
	// Dedupable and Batchable override the per-method defaults
	Dedupable *bool
	Batchable *bool
	// NoWaitOnDuplicate fails fast with a dedup_wait error instead of sharing
	// the result of an identical in-flight request
	NoWaitOnDuplicate bool
}

// Response is a fully read upstream response. Callers that shared a
// deduplicated execution receive the same *Response and must treat it as
// read-only.
type Response struct {
	StatusCode int           `json:"status_code"`
	Header     http.Header   `json:"header"`
	Body       []byte        `json:"-"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	HostKey    string        `json:"host_key"`
}

// Get builds a GET request
func Get(url string) *Request {
	return &Request{Method: http.MethodGet, URL: url}
}

// Post builds a POST request with a body and content type
func Post(url, contentType string, body []byte) *Request {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Request{Method: http.MethodPost, URL: url, Header: h, Body: body}
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r *Request) validate() error {
	if r == nil {
		return errors.ValidationError("request is nil")
	}
	if r.URL == "" {
		return errors.ValidationError("request URL is required")
	}
	if r.Timeout < 0 {
		return errors.ValidationError("request timeout must not be negative")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return errors.ValidationError("max retries must not be negative")
	}
	return nil
}

func (r *Request) bodyReader() io.Reader {
	if len(r.Body) == 0 {
		return nil
	}
	return bytes.NewReader(r.Body)
}

// Int returns a pointer to v, for Request.MaxRetries
func Int(v int) *int {
	return &v
}

// Bool returns a pointer to v, for Request.Dedupable and Request.Batchable
func Bool(v bool) *bool {
	return &v
}
