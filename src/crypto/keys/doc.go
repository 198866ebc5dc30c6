// Package keys implements the public key cryptography used throughout Braid.
//
// A Braid node, also referred to as peer, participant or validator, owns a
// cryptographic key-pair that it uses to sign the events it creates. The
// private key is secret but the public key is known to every other node,
// which uses it to verify inbound events attributed to this creator.
//
// Braid uses elliptic curve cryptography (ECDSA) with the secp256k1 curve,
// the same curve used by Bitcoin and Ethereum.
package keys
