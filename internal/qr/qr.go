// Package qr renders scan URLs as QR code images.
package qr

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image edge in pixels.
const DefaultSize = 256

// PNG encodes the scan URL as a PNG QR code with medium error correction.
func PNG(scanURL string, size int) ([]byte, error) {
	if scanURL == "" {
		return nil, errors.New("qr: empty scan url")
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(scanURL, qrcode.Medium, size)
}
