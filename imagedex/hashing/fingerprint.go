package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Size is the fingerprint width in bytes. All hash variants produce 64-bit
// fingerprints (an 8x8 bit grid), so fingerprints from different variants have
// the same shape but are never mixed within one index.
const Size = 8

// MaxDistance is the largest possible Hamming distance between two fingerprints.
const MaxDistance = Size * 8

// Fingerprint is a fixed-width perceptual summary of an image's visual content,
// tolerant to minor edits. It is a plain value type: fingerprints constructed
// independently from the same bytes compare equal and hash to the same map key,
// which the Registry relies on.
type Fingerprint [Size]byte

// FromUint64 packs a 64-bit hash value big-endian into a Fingerprint.
func FromUint64(v uint64) Fingerprint {
	var fp Fingerprint
	binary.BigEndian.PutUint64(fp[:], v)
	return fp
}

// Uint64 returns the fingerprint as a single 64-bit value.
func (fp Fingerprint) Uint64() uint64 {
	return binary.BigEndian.Uint64(fp[:])
}

// Distance returns the Hamming distance to other: the count of differing bits.
// It is symmetric, zero iff the fingerprints are bitwise equal, and satisfies
// the triangle inequality, which is what makes BK-tree pruning sound.
func (fp Fingerprint) Distance(other Fingerprint) int {
	d := 0
	for i := 0; i < Size; i++ {
		d += bits.OnesCount8(fp[i] ^ other[i])
	}
	return d
}

// Hex returns the raw byte encoding as a lowercase hex string, the form used as
// a mapping key in persisted snapshots.
func (fp Fingerprint) Hex() string {
	return hex.EncodeToString(fp[:])
}

// ParseHex reconstructs a Fingerprint from its hex encoding. A payload whose
// decoded width does not match Size is rejected, which is how incompatible
// snapshot layouts are detected.
func ParseHex(s string) (Fingerprint, error) {
	var fp Fingerprint
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("invalid fingerprint encoding %q: %w", s, err)
	}
	if len(raw) != Size {
		return fp, fmt.Errorf("fingerprint width mismatch: got %d bytes, want %d", len(raw), Size)
	}
	copy(fp[:], raw)
	return fp, nil
}

func (fp Fingerprint) String() string {
	return fp.Hex()
}
