package random

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

var ErrRngUnavailable = errors.New("secure random source unavailable")

// Reader draws from the operating system CSPRNG. A short or failed read is
// reported as ErrRngUnavailable; there is no fallback source.
var Reader io.Reader = reader{src: rand.Reader}

type reader struct {
	src io.Reader
}

func (r reader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(r.src, p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrRngUnavailable, err)
	}
	return n, nil
}

// Bytes returns n fresh random bytes.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

const idAlphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"

// ID returns an unguessable URL-safe identifier of the given length, using
// the 64 character alphabet so every byte maps without bias.
func ID(length int) (string, error) {
	b, err := Bytes(length)
	if err != nil {
		return "", err
	}
	for i := range b {
		b[i] = idAlphabet[b[i]&63]
	}
	return string(b), nil
}
