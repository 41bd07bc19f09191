package hashing

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

const (
	// waveletScale is the side length images are reduced to before the Haar
	// decomposition. Three transform levels reduce 64x64 to the 8x8
	// low-frequency band that becomes the 64-bit fingerprint.
	waveletScale  = 64
	waveletLevels = 3
	waveletBand   = 8
)

// waveletHasher implements the wavelet hash variant: grayscale reduction,
// multi-level 2D Haar decomposition, then a median threshold over the
// low-frequency band. goimagehash has no wavelet variant, so this one is native.
type waveletHasher struct{}

func (waveletHasher) Fingerprint(img image.Image) (Fingerprint, error) {
	gray := imaging.Grayscale(imaging.Resize(img, waveletScale, waveletScale, imaging.Lanczos))

	pixels := make([][]float64, waveletScale)
	for y := 0; y < waveletScale; y++ {
		pixels[y] = make([]float64, waveletScale)
		for x := 0; x < waveletScale; x++ {
			r, _, _, _ := gray.At(x, y).RGBA()
			pixels[y][x] = float64(r) / math.MaxUint16
		}
	}

	size := waveletScale
	for level := 0; level < waveletLevels; level++ {
		haarStep(pixels, size)
		size /= 2
	}

	// Median threshold over the LL band. Ties (coefficient == median) hash to
	// zero, keeping the result deterministic for flat images.
	band := make([]float64, 0, waveletBand*waveletBand)
	for y := 0; y < waveletBand; y++ {
		for x := 0; x < waveletBand; x++ {
			band = append(band, pixels[y][x])
		}
	}
	median := medianOf(band)

	var hash uint64
	for y := 0; y < waveletBand; y++ {
		for x := 0; x < waveletBand; x++ {
			hash <<= 1
			if pixels[y][x] > median {
				hash |= 1
			}
		}
	}
	return FromUint64(hash), nil
}

func (waveletHasher) Algorithm() Algorithm { return Wavelet }

// haarStep applies one level of the 2D Haar transform in place over the
// top-left size x size region, leaving averages in the first half and
// differences in the second.
func haarStep(pixels [][]float64, size int) {
	half := size / 2
	row := make([]float64, size)

	for y := 0; y < size; y++ {
		copy(row, pixels[y][:size])
		for x := 0; x < half; x++ {
			pixels[y][x] = (row[2*x] + row[2*x+1]) / 2
			pixels[y][half+x] = (row[2*x] - row[2*x+1]) / 2
		}
	}

	col := make([]float64, size)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			col[y] = pixels[y][x]
		}
		for y := 0; y < half; y++ {
			pixels[y][x] = (col[2*y] + col[2*y+1]) / 2
			pixels[half+y][x] = (col[2*y] - col[2*y+1]) / 2
		}
	}
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
