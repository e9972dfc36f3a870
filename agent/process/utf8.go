package process

import "unicode/utf8"

// completeUTF8Len returns the length of b without a trailing incomplete UTF-8 sequence.
// Invalid bytes count as complete, they are passed through as-is.
func completeUTF8Len(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return len(b)
		}
		return start
	}
	return len(b)
}
