// ABOUTME: Decoding of base64 media payloads sent inline in API requests
// ABOUTME: Accepts plain base64 or data URIs, padded or not, with embedded whitespace

package media

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/elnormous/contenttype"
)

// ErrInvalidBase64 is returned for payloads that are not decodable base64.
var ErrInvalidBase64 = errors.New("invalid base64 payload")

// DecodeBase64 decodes a base64 payload. When the payload is a data URI
// ("data:<mime>;base64,<data>") its media type is returned too.
func DecodeBase64(payload string) (data []byte, mimeType string, err error) {
	payload = strings.TrimSpace(payload)

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", ErrInvalidBase64
		}
		mt := contenttype.NewMediaType(strings.TrimSuffix(header, ";base64"))
		if mt.Type != "" && mt.Subtype != "" {
			mimeType = mt.Type + "/" + mt.Subtype
		}
		payload = body
	}

	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, "", ErrInvalidBase64
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err = enc.DecodeString(payload); err == nil {
			return data, mimeType, nil
		}
	}
	return nil, "", ErrInvalidBase64
}
