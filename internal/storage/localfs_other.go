//go:build !darwin && !linux

package storage

// Detection is unavailable; every filesystem is treated as local.
func detectFilesystemType(string) (string, error) {
	return "local", nil
}
