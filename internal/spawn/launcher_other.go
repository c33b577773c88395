//go:build !unix

package spawn

import "os"

type unsupportedLauncher struct{}

func (unsupportedLauncher) Launch(string, *os.File) error { return ErrUnsupported }

// DefaultLauncher returns the platform launcher.
func DefaultLauncher() Launcher {
	return unsupportedLauncher{}
}

func socketPair() (server, child *os.File, err error) {
	return nil, nil, ErrUnsupported
}
