package models

import "github.com/google/uuid"

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// IDLength is the length of every prefixed workspace identifier.
const IDLength = 12

// NewID returns prefix followed by random alphanumerics, IDLength in total.
func NewID(prefix string) string {
	buf := make([]byte, 0, IDLength)
	buf = append(buf, prefix...)
	for len(buf) < IDLength {
		u := uuid.New()
		for _, b := range u[:] {
			if len(buf) == IDLength {
				break
			}
			// Skip the top of the byte range to keep the distribution uniform.
			if b >= 248 {
				continue
			}
			buf = append(buf, idAlphabet[int(b)%len(idAlphabet)])
		}
	}
	return string(buf)
}

// LooksLikeLayerID reports whether s has the shape of a layer id.
func LooksLikeLayerID(s string) bool {
	return len(s) == IDLength && s[0] == 'L'
}
