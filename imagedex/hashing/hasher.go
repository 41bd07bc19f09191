package hashing

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
)

// Algorithm identifies one of the supported perceptual hash variants. Exactly
// one variant is active per index instance; fingerprints from different
// variants are never mixed within one tree.
type Algorithm string

const (
	Average    Algorithm = "average"
	Difference Algorithm = "difference"
	Wavelet    Algorithm = "wavelet"
	Perceptual Algorithm = "perceptual"
)

// ParseAlgorithm validates a configuration value against the known variants.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case Average, Difference, Wavelet, Perceptual:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("unknown hash algorithm %q (want average, difference, wavelet or perceptual)", s)
}

// Hasher maps decoded image pixels to a fixed-width Fingerprint. Implementations
// must be deterministic for identical pixel data and safe for concurrent use,
// since hashing is the one operation that runs in parallel across workers.
type Hasher interface {
	Fingerprint(img image.Image) (Fingerprint, error)
	Algorithm() Algorithm
}

// New selects the concrete hash variant once at construction time.
func New(algo Algorithm) (Hasher, error) {
	switch algo {
	case Average:
		return averageHasher{}, nil
	case Difference:
		return differenceHasher{}, nil
	case Wavelet:
		return waveletHasher{}, nil
	case Perceptual:
		return perceptionHasher{}, nil
	}
	return nil, fmt.Errorf("unknown hash algorithm %q", algo)
}

// FileHasher decodes an image file and fingerprints its pixels. Decoding applies
// EXIF auto-orientation so that a rotated copy of an image hashes close to the
// original.
type FileHasher struct {
	hasher Hasher
}

// NewFileHasher constructs a FileHasher for the given variant.
func NewFileHasher(algo Algorithm) (*FileHasher, error) {
	h, err := New(algo)
	if err != nil {
		return nil, err
	}
	return &FileHasher{hasher: h}, nil
}

// HashFile reads, decodes and fingerprints one image file.
func (fh *FileHasher) HashFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return fh.hasher.Fingerprint(img)
}

// Algorithm reports the active hash variant.
func (fh *FileHasher) Algorithm() Algorithm {
	return fh.hasher.Algorithm()
}
