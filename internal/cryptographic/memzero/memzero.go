package memzero

// Wipe overwrites b with zeros. Best effort: the runtime may already hold
// copies of the buffer elsewhere.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}
