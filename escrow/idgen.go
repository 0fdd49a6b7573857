package escrow

import "crypto/rand"

// Deal ids are short tokens from a 32-character alphabet with the easily
// confused letters (i, l, o, u) removed. Ten characters carry 50 bits of
// entropy, enough to make ids unguessable and collisions negligible for
// the lifetime of a store.
const (
	idAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"
	idLength   = 10
)

// NewDealID returns a fresh short deal identifier.
func NewDealID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic("escrow: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)&31]
	}
	return string(buf)
}
