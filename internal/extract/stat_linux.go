//go:build linux

package extract

import (
	"io/fs"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

func fileTimes(path string, info fs.FileInfo) timestamps {
	mod := seconds(info.ModTime().Unix(), int64(info.ModTime().Nanosecond()))
	t := timestamps{mod: mod, access: mod, birth: mod}

	st, ok := info.Sys().(*syscall.Stat_t)
	if ok {
		t.access = seconds(int64(st.Atim.Sec), int64(st.Atim.Nsec))
		t.birth = seconds(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
	}

	// Prefer the real birth time when the filesystem records one.
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx); err == nil {
		if stx.Mask&unix.STATX_BTIME != 0 {
			t.birth = seconds(stx.Btime.Sec, int64(stx.Btime.Nsec))
		}
	}
	return t
}

func fileOwner(info fs.FileInfo) string {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	uid := strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(uid); err == nil {
		return u.Username
	}
	return uid
}

func seconds(sec, nsec int64) float64 {
	return float64(sec) + float64(nsec)/1e9
}
