//go:build amd64 && !windows

package hostmem

import "golang.org/x/sys/unix"

// lowAddressFlag restricts the mapping to the first 2 GiB of the
// address space on amd64, where a plain 64-bit process would otherwise
// receive addresses the generated code's 32-bit immediates cannot
// represent.
func lowAddressFlag() int {
	return unix.MAP_32BIT
}
