// Package shared holds small helpers used by more than one command.
package shared

// WipeByteArray zeroes b. Used on passwords read from the terminal.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
