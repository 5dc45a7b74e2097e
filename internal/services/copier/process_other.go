//go:build !linux && !darwin

package copier

import "os"

// processAlive reports whether pid may name a running process. Where
// FindProcess cannot tell, every process counts as alive.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
