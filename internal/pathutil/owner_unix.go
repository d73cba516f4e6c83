//go:build unix

package pathutil

import (
	"os"
	"syscall"

	"pkt.systems/pslog"
)

// checkOwner logs when path is not owned by the calling user, the second
// half of the original client's stat-based permission audit. A mismatch is
// logged only, never returned as an error: see VerifyPrivate.
func checkOwner(logger pslog.Logger, path string, info os.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	if stat.Uid != uint32(os.Getuid()) {
		logger.Warn("file is not owned by the calling user", "path", path, "uid", stat.Uid)
	}
}
