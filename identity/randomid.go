package identity

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"
	"math/big"
)

var (
	// idReader is used for random id generation. This declaration allows us to
	// replace it for testing.
	idReader = cryptorand.Reader
)

// parameters for random identifier generation.
const (
	randomIDEntropyBytes = 17
	randomIDBase         = 36

	// To ensure that all identifiers are fixed length, we make sure they
	// get padded out or truncated to 25 characters.
	//
	// f5lxx1zz5pnorynqglhzmsp33 == 2^128 - 1, which is
	// floor(log(2^128-1, 36)) + 1 characters long.
	//
	// We generate an extra byte of entropy to fill in the high bits, which
	// would otherwise be 0. This gives us a more even distribution of the
	// first character.
	maxRandomIDLength = 25
)

// NewID generates a new identifier for transactions and subscriptions.
//
// The generated identifier provides ~129 bits of entropy encoded with base36.
// Identifiers should be treated opaquely.
func NewID() string {
	var p [randomIDEntropyBytes]byte

	if _, err := io.ReadFull(idReader, p[:]); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	p[0] |= 0x80 // set high bit to avoid the need for padding
	return (&big.Int{}).SetBytes(p[:]).Text(randomIDBase)[1 : maxRandomIDLength+1]
}
