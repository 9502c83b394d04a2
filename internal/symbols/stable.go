package symbols

import (
	"context"
	"fmt"
	"time"
)

// DefaultStableDelay is how long a file must stay unchanged to be stable.
const DefaultStableDelay = 100 * time.Millisecond

// stamp identifies one version of a file on disk.
type stamp struct {
	size  int64
	mtime int64
	ctime int64
}

// WaitStable blocks until two polls of path, delay apart, agree on size,
// mtime and ctime. It fails if the file is missing or disappears.
func WaitStable(ctx context.Context, path string, delay time.Duration) error {
	if delay <= 0 {
		delay = DefaultStableDelay
	}

	prev, err := statStamp(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnstable, err)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnstable, ctx.Err())
		case <-timer.C:
		}

		cur, err := statStamp(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnstable, err)
		}
		if cur == prev {
			return nil
		}
		prev = cur
		timer.Reset(delay)
	}
}
