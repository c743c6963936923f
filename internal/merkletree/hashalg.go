package merkletree

import (
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashAlg identifies a digest algorithm by a stable numeric id ("hash_nid"
// in spec.md §4.3), the way an OpenSSL digest NID would, so the abstraction
// spec.md §9 calls for ("any mature library suffices") has more than one
// real provider behind it.
type HashAlg uint32

const (
	// HashSHA512_224 is the default digest: SHA-512/224, 28-byte output.
	HashSHA512_224 HashAlg = iota
	// HashBLAKE2b256 is a 32-byte alternate digest.
	HashBLAKE2b256
	// HashSHA3_256 is a 32-byte alternate digest.
	HashSHA3_256
)

// String returns a human-readable algorithm name.
func (h HashAlg) String() string {
	switch h {
	case HashSHA512_224:
		return "sha512-224"
	case HashBLAKE2b256:
		return "blake2b-256"
	case HashSHA3_256:
		return "sha3-256"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(h))
	}
}

// New returns a fresh hash.Hash instance for the algorithm, or an error if
// the nid is not one this build recognizes (spec.md §4.3's "unknown
// hash_nid" failure mode, classified as config_invalid).
func (h HashAlg) New() (hash.Hash, error) {
	switch h {
	case HashSHA512_224:
		return sha512.New512_224(), nil
	case HashBLAKE2b256:
		return blake2b.New256(nil)
	case HashSHA3_256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("merkletree: unknown hash_nid %d", uint32(h))
	}
}

// Size returns the digest width in bytes for the algorithm.
func (h HashAlg) Size() (int, error) {
	switch h {
	case HashSHA512_224:
		return sha512.Size224, nil
	case HashBLAKE2b256:
		return 32, nil
	case HashSHA3_256:
		return 32, nil
	default:
		return 0, fmt.Errorf("merkletree: unknown hash_nid %d", uint32(h))
	}
}
