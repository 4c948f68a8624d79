//go:build !linux

package extract

import "io/fs"

func fileTimes(_ string, info fs.FileInfo) timestamps {
	mod := float64(info.ModTime().UnixNano()) / 1e9
	return timestamps{mod: mod, access: mod, birth: mod}
}

func fileOwner(fs.FileInfo) string { return "" }
