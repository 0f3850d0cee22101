package utils

import (
	"crypto/rand"
	"math/big"
)

// Order codes skip ambiguous characters (0/O, 1/l/I) so they survive
// being read over the phone at the door.
const codeAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 8

// GenerateOrderCode returns a random 8-character order code. Uniqueness
// per event is enforced by the caller against storage.
func GenerateOrderCode() string {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is unrecoverable
			panic(err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf)
}
