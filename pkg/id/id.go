// Package id generates identifiers for connections and requests.
package id

import (
	"crypto/rand"
	"strings"
)

// Crockford base32 without I, L, O, U.
const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Token returns n random characters from the Crockford alphabet.
func Token(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = alphabet[b&0x1F]
	}
	return string(buf)
}

// Connection builds a connection id from the digits of the remote ip followed
// by a 20 character random token.
func Connection(ip string) string {
	var b strings.Builder
	b.Grow(len(ip) + 20)
	for _, r := range ip {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	b.WriteString(Token(20))
	return b.String()
}
