package mem

import "unsafe"

// Memset sets all bytes in buf to the supplied value. Instead of using a for
// loop, this function uses log2(len(buf)) copy calls which should give us a
// speed boost for large regions.
func Memset(buf []byte, value byte) {
	if len(buf) == 0 {
		return
	}

	// Set first element and make log2(size) optimized copies
	buf[0] = value
	for index := 1; index < len(buf); index *= 2 {
		copy(buf[index:], buf[:index])
	}
}

// Overlay returns a byte slice backed by the memory region [addr, addr+size).
// It is used for accessing fixed physical regions (e.g. the kernel heap arena
// or the page tables) through bounds-checked slices.
func Overlay(addr uintptr, size Size) []byte {
	if size == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}
