package hashing

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// The average, difference and perceptual variants delegate to goimagehash,
// which produces 64-bit hashes matching the fingerprint width.

type averageHasher struct{}

func (averageHasher) Fingerprint(img image.Image) (Fingerprint, error) {
	h, err := goimagehash.AverageHash(img)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("average hash failed: %w", err)
	}
	return FromUint64(h.GetHash()), nil
}

func (averageHasher) Algorithm() Algorithm { return Average }

type differenceHasher struct{}

func (differenceHasher) Fingerprint(img image.Image) (Fingerprint, error) {
	h, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("difference hash failed: %w", err)
	}
	return FromUint64(h.GetHash()), nil
}

func (differenceHasher) Algorithm() Algorithm { return Difference }

type perceptionHasher struct{}

func (perceptionHasher) Fingerprint(img image.Image) (Fingerprint, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("perception hash failed: %w", err)
	}
	return FromUint64(h.GetHash()), nil
}

func (perceptionHasher) Algorithm() Algorithm { return Perceptual }
