package qr

import (
	"bytes"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestPNGEncodesScanURL(t *testing.T) {
	img, err := PNG("http://localhost:3000/attend?token=abc", 128)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Error("output must be a PNG image")
	}
}

func TestPNGDefaultsSize(t *testing.T) {
	img, err := PNG("http://localhost:3000/attend?token=abc", 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(img) == 0 {
		t.Error("expected image bytes")
	}
}

func TestPNGRejectsEmptyURL(t *testing.T) {
	if _, err := PNG("", 128); err == nil {
		t.Fatal("empty scan url must be rejected")
	}
}
