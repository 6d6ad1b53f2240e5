//go:build !linux

package pty

import "os"

// writeSilentPlatform falls back to a regular write on non-Linux
// platforms since TCGETS/TCSETS are Linux-specific ioctl numbers.
func writeSilentPlatform(file *os.File, data []byte) (int, error) {
	return file.Write(data)
}
