// Package recovery converts goroutine panics into returned errors so one
// misbehaving file decoder cannot take down the process scanning it.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Do wraps f so a panic surfaces as the returned error instead of unwinding
// the goroutine. An optional logger records the stack trace; only the first
// one is used.
func Do(f func() error, logger ...log.Logger) func() error {
	return func() (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			switch e := r.(type) {
			case error:
				err = e
			default:
				err = fmt.Errorf("panic: %v", e)
			}
			if len(logger) > 0 {
				level.Error(logger[0]).Log("msg", "recovered from panic", "err", err, "stacktrace", string(debug.Stack()))
			}
		}()
		return f()
	}
}
