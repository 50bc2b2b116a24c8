// Package fingerprint computes content fingerprints for uploaded source
// documents. The exact digest drives duplicate detection; the perceptual
// hash is recorded for images so near-identical rescans can be surfaced.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

const (
	dhashWidth  = 8
	dhashHeight = 8
)

// Fingerprint identifies a document's content. Digest is always set;
// Perceptual only for decodable images.
type Fingerprint struct {
	Digest     string
	Perceptual string
}

// HashError reports a file whose content could not be fingerprinted. The
// batch records it per file and keeps going.
type HashError struct {
	FileName string
	Reason   string
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash %s: %s", e.FileName, e.Reason)
}

// Compute fingerprints raw file bytes. The digest is sha256 over the
// exact bytes, so the same upload always produces the same digest. Input
// that cannot be decoded as an image simply has no perceptual hash; that
// is not an error.
func Compute(name string, data []byte) (Fingerprint, error) {
	if len(data) == 0 {
		return Fingerprint{}, &HashError{FileName: name, Reason: "file is empty"}
	}

	sum := sha256.Sum256(data)
	fp := Fingerprint{Digest: hex.EncodeToString(sum[:])}

	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		fp.Perceptual = dhash(img)
	}
	return fp, nil
}

// CaptureTime reads the EXIF capture timestamp from a photographed
// document, when present. It serves as a better occurred-at fallback than
// the upload time for photos of paper invoices.
func CaptureTime(data []byte) (time.Time, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return time.Time{}, false
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// dhash builds a 64-bit difference hash: grayscale, shrink to 9x8, then
// one bit per pixel comparing each pixel to its right neighbor.
func dhash(img image.Image) string {
	small := imaging.Resize(imaging.Grayscale(img), dhashWidth+1, dhashHeight, imaging.Lanczos)

	var bits uint64
	for y := 0; y < dhashHeight; y++ {
		for x := 0; x < dhashWidth; x++ {
			bits <<= 1
			if small.NRGBAAt(x, y).R < small.NRGBAAt(x+1, y).R {
				bits |= 1
			}
		}
	}
	return fmt.Sprintf("%016x", bits)
}
