package retry

import (
	"time"

	"outbound-pool/internal/common/errors"
)

// Context tracks one request's attempt chain
type Context struct {
	Attempt int
	Err     error
	Start   time.Time

	now func() time.Time
}

// NewContext starts tracking at the given time source
func NewContext(now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	return &Context{Start: now(), now: now}
}

// Fail records the error of the current attempt
func (c *Context) Fail(err error) {
	c.Err = err
}

// Next advances to the following attempt
func (c *Context) Next() {
	c.Attempt++
}

// Attempts returns how many attempts were made so far, counting the current one
func (c *Context) Attempts() int {
	return c.Attempt + 1
}

// Elapsed returns time since the first attempt started
func (c *Context) Elapsed() time.Duration {
	return c.now().Sub(c.Start)
}

// Exhausted wraps the last error once the retry limit is hit
func Exhausted(c *Context) *errors.AppError {
	return errors.RetryExhaustedError(c.Attempts(), c.Elapsed(), c.Err)
}
