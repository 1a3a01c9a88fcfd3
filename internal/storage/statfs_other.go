//go:build !linux && !darwin

package storage

// diskFree reports -1 (unknown) where statfs is not available; the quota, if
// configured, is then the only limit.
func diskFree(path string) (int64, error) {
	return -1, nil
}

func isNoSpace(err error) bool {
	return false
}
