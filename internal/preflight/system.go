package preflight

import (
	"fmt"
	"syscall"
)

const (
	// MinDiskSpaceBytes is the free space a build needs on the index root's
	// filesystem.
	MinDiskSpaceBytes = 100 << 20
	// MinFileDescriptors is the soft open-file limit a build needs.
	MinFileDescriptors = 1024
)

// CheckDiskSpace measures free space where root lives, or will live.
func (c *Checker) CheckDiskSpace(root string) Result {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(existingAncestor(root), &fs); err != nil {
		return fail("disk_space", fmt.Sprintf("statfs: %v", err)).required()
	}
	free := fs.Bavail * uint64(fs.Bsize)
	msg := humanBytes(free) + " free (minimum: " + humanBytes(MinDiskSpaceBytes) + ")"
	if free < MinDiskSpaceBytes {
		return fail("disk_space", msg).required()
	}
	return pass("disk_space", msg).required()
}

// CheckFileDescriptors compares the soft RLIMIT_NOFILE against
// MinFileDescriptors. A rebuild keeps the chunk files, the keyword index and
// the vector file open at once.
func (c *Checker) CheckFileDescriptors() Result {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return fail("file_descriptors", fmt.Sprintf("getrlimit: %v", err)).required()
	}
	msg := fmt.Sprintf("%d (minimum: %d)", lim.Cur, MinFileDescriptors)
	if lim.Cur < MinFileDescriptors {
		return fail("file_descriptors", msg).required().detail("Run 'ulimit -n 10240' to increase the limit")
	}
	return pass("file_descriptors", msg).required()
}

func humanBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	v := float64(n) / 1024
	for _, unit := range []string{"KB", "MB", "GB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f TB", v)
}
