//go:build unix

package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// detachScript backgrounds the real command and lets the intermediate shell
// exit at once, so the command is reparented to init and never reaped by us.
const detachScript = `"$0" -c "$1" &`

// ShellLauncher runs commands through an intermediate shell that detaches
// them.
type ShellLauncher struct {
	// Shell defaults to DefaultShell.
	Shell string
	// Stdout and Stderr default to the compositor's own. They must be files
	// so the intermediate's exit is not held up by output copying.
	Stdout *os.File
	Stderr *os.File
}

// DefaultLauncher returns the platform launcher.
func DefaultLauncher() Launcher {
	return ShellLauncher{}
}

// Launch implements Launcher.
func (l ShellLauncher) Launch(command string, conn *os.File) error {
	shell := l.Shell
	if shell == "" {
		shell = DefaultShell
	}
	stdout, stderr := l.Stdout, l.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := exec.Command(shell, "-c", detachScript, shell, command)
	cmd.Env = append(withoutEnv(os.Environ(), EnvSocket), EnvSocket+"="+strconv.Itoa(ChildFD))
	// ExtraFiles[0] becomes descriptor 3, without close-on-exec.
	cmd.ExtraFiles = []*os.File{conn}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("intermediate shell: %w", err)
	}
	return nil
}

func withoutEnv(env []string, key string) []string {
	prefix := key + "="
	out := env[:0:0]
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return out
}

func socketPair() (server, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "wayland-server"), os.NewFile(uintptr(fds[1]), "wayland-client"), nil
}
