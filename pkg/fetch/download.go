package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"attachment-sync/pkg/utils"
)

// idleWatchdogReader aborts a streaming body when no bytes arrive for the
// configured window. The timer is rearmed on every successful Read, so a slow
// but live transfer is never killed, while a stalled one is cancelled through
// the request context.
type idleWatchdogReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
	stalled atomic.Bool
}

func newIdleWatchdogReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleWatchdogReader {
	w := &idleWatchdogReader{r: r, timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.stalled.Store(true)
		cancel()
	})
	return w
}

func (w *idleWatchdogReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.timer.Reset(w.timeout)
	}
	return n, err
}

func (w *idleWatchdogReader) Stop() {
	w.timer.Stop()
}

// StreamToFile copies body to path, guarded by the inactivity watchdog.
// cancel must abort the in-flight request carrying body; it is invoked when
// the watchdog fires. The partially written file is removed on failure.
// Returns the number of bytes written.
func StreamToFile(body io.Reader, path string, idleTimeout time.Duration, cancel context.CancelFunc) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: creating file '%s': %w", utils.ErrFilesystem, path, err)
	}

	watchdog := newIdleWatchdogReader(body, idleTimeout, cancel)
	written, copyErr := io.Copy(out, watchdog)
	watchdog.Stop()

	closeErr := out.Close()

	if copyErr != nil {
		os.Remove(path)
		if watchdog.stalled.Load() {
			return written, fmt.Errorf("%w: no data for %v (received %d bytes): %w", utils.ErrDownloadStalled, idleTimeout, written, copyErr)
		}
		return written, fmt.Errorf("streaming to '%s' (received %d bytes): %w", path, written, copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return written, fmt.Errorf("%w: closing file '%s': %w", utils.ErrFilesystem, path, closeErr)
	}
	return written, nil
}
