//go:build linux

package filecache

import "golang.org/x/sys/unix"

func modTime(st *unix.Stat_t) int64 {
	return st.Mtim.Nano()
}
