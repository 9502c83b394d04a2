//go:build linux

package symbols

import (
	"golang.org/x/sys/unix"
)

// statStamp reads size, mtime and ctime with nanosecond precision.
func statStamp(path string) (stamp, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return stamp{}, err
	}
	return stamp{
		size:  st.Size,
		mtime: st.Mtim.Nano(),
		ctime: st.Ctim.Nano(),
	}, nil
}
