package pty

import "os"

// DefaultShell returns the preferred shell for PTY sessions: SHELL from
// the environment when set, else /bin/bash, else /bin/sh.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}
