//go:build !linux

package symbols

import "os"

// statStamp falls back to os.Stat; the status change time is not exposed
// portably, so mtime stands in for it.
func statStamp(path string) (stamp, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return stamp{}, err
	}
	t := fi.ModTime().UnixNano()
	return stamp{size: fi.Size(), mtime: t, ctime: t}, nil
}
