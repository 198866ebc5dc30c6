package crypto

import "crypto/sha512"

// HashLength is the byte-length of event hashes. Braid uses SHA-384 whose
// digests fit in 48 bytes on the wire.
const HashLength = sha512.Size384

// SHA384 returns the SHA-384 hash of the data.
func SHA384(data []byte) []byte {
	hasher := sha512.New384()
	hasher.Write(data)
	return hasher.Sum(nil)
}
