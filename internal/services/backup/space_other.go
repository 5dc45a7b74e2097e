//go:build !linux && !darwin

package backup

// AvailableSpace is not implemented here; callers fall back to an assumed size.
func AvailableSpace(string) (uint64, error) {
	return 0, errSpaceUnsupported
}
