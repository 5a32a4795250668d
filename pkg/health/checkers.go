package health

import (
	"context"
	"net"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the number of goroutines exceeds threshold.
// Every WebSocket connection holds two goroutines, so the threshold bounds
// connections too.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// DialCheck fails when a TCP connection to addr cannot be opened.
func DialCheck(addr string) CheckFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "dial %s", addr)
		}
		return conn.Close()
	}
}

