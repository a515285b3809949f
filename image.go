package imagegate

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

// ValidateSourceImage checks that data looks like a well-formed PNG or JPEG
// by magic bytes. The image itself is never decoded; it stays an opaque
// blob all the way to the provider.
func ValidateSourceImage(data []byte) error {
	if bytes.HasPrefix(data, pngMagic) || bytes.HasPrefix(data, jpegMagic) {
		return nil
	}
	return ErrInvalidImage
}

// DecodeImageDataURL parses a data-URI-encoded image ("data:image/png;base64,...")
// into raw bytes and validates the format.
func DecodeImageDataURL(s string) ([]byte, error) {
	const scheme = "data:"
	if !strings.HasPrefix(s, scheme) {
		return nil, ErrInvalidImage
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
		return nil, ErrInvalidImage
	}
	data, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := ValidateSourceImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeImageDataURL wraps encoded image bytes in a PNG data URI for the
// browser.
func EncodeImageDataURL(data []byte) string {
	mime := "image/png"
	if bytes.HasPrefix(data, jpegMagic) {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
