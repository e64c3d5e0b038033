// ABOUTME: Renders backend pairing codes as scannable QR images
// ABOUTME: Produces PNG bytes or a data URI ready to embed in an <img> tag

package qrcode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// DefaultSize is the edge length in pixels of rendered codes.
const DefaultSize = 256

// ErrEmptyContent is returned when there is nothing to encode.
var ErrEmptyContent = errors.New("qr content is empty")

// PNG encodes content as a square QR code image of the given size.
// A size of zero or less uses DefaultSize.
func PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = DefaultSize
	}

	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encoding qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scaling qr to %dpx: %w", size, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI encodes content as a base64 PNG data URI.
func DataURI(content string, size int) (string, error) {
	img, err := PNG(content, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img), nil
}
