//go:build linux || darwin

package backup

import "golang.org/x/sys/unix"

// AvailableSpace returns the free bytes available to unprivileged users on
// the volume holding dir.
func AvailableSpace(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
