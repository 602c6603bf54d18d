package describe

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/filetype"
)

// MsgImageMissing is the message callers see when no image was supplied.
const MsgImageMissing = "Image missing"

// Image is a normalized image reference ready to be sent upstream.
// The zero value is not usable; build one with NormalizeString, FromBytes or FromFile.
type Image struct {
	dataURL string
	mime    string
}

// DataURL returns the exact data URL sent to chat-style APIs.
func (i Image) DataURL() string { return i.dataURL }

// MIME returns the media type, e.g. image/png.
func (i Image) MIME() string { return i.mime }

var detector = filetype.New()

// NormalizeString accepts raw base64 or a data URL.
// Recognized image data URLs pass through unchanged; anything else is wrapped
// as image/jpeg.
func NormalizeString(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Image{}, &ValidationError{Message: MsgImageMissing}
	}
	if !hasPrefixFold(s, "data:") {
		return Image{
			dataURL: "data:" + filetype.FallbackMIME + ";base64," + s,
			mime:    filetype.FallbackMIME,
		}, nil
	}

	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return Image{}, &ValidationError{Message: "malformed data URL"}
	}
	// media type parameters (RFC 2397) may sit between the type and ";base64"
	meta := s[len("data:"):comma]
	if len(meta) < len(";base64") || !strings.EqualFold(meta[len(meta)-len(";base64"):], ";base64") {
		return Image{}, &ValidationError{Message: "data URL must be base64 encoded"}
	}
	mediaType := meta[:strings.IndexByte(meta, ';')]
	mime := strings.ToLower(mediaType)
	if !strings.HasPrefix(mime, "image/") || len(mime) == len("image/") {
		return Image{}, &ValidationError{Message: fmt.Sprintf("unsupported media type %q", mediaType)}
	}
	if s[comma+1:] == "" {
		return Image{}, &ValidationError{Message: MsgImageMissing}
	}
	return Image{dataURL: s, mime: mime}, nil
}

// FromBytes base64-encodes raw image bytes, detecting the media type.
func FromBytes(b []byte) (Image, error) {
	if len(b) == 0 {
		return Image{}, &ValidationError{Message: MsgImageMissing}
	}
	info := detector.Detect(b)
	if !info.Supported {
		return Image{}, &ValidationError{Message: info.Description}
	}
	return Image{
		dataURL: "data:" + info.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(b),
		mime:    info.MIMEType,
	}, nil
}

// FromFile reads path and normalizes its bytes. When owned is true the file
// is removed before returning, whatever the outcome.
func FromFile(path string, owned bool) (img Image, err error) {
	if owned {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn().Err(rmErr).Str("file", path).Msg("failed to remove temporary image")
			}
		}()
	}
	if path == "" {
		return Image{}, &ValidationError{Message: MsgImageMissing}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image file: %w", err)
	}
	return FromBytes(b)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
