//go:build windows

package keys

import "os"

// lockFile is a no-op on Windows. Credential Manager is the primary backend
// there and the file fallback only loses protection against two processes
// saving the same key name at once.
func lockFile(_ *os.File) (unlock func(), err error) {
	return func() {}, nil
}
