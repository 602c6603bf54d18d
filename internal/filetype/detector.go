package filetype

import (
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// FallbackMIME is used when bytes cannot be identified but the caller still
// wants a data URL (raw base64 strings are assumed to be JPEG).
const FallbackMIME = "image/jpeg"

// ImageInfo contains detected image type information
type ImageInfo struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// Detector identifies images by magic bytes, never by filename.
type Detector struct{}

// New creates a new image type detector
func New() *Detector {
	return &Detector{}
}

// Detect classifies an in-memory payload.
func (d *Detector) Detect(b []byte) *ImageInfo {
	mtype := mimetype.Detect(b)
	info := &ImageInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info)
	log.Debug().Str("mime", info.MIMEType).Bool("supported", info.Supported).Int("bytes", len(b)).Msg("detected image type")
	return info
}

// DetectReader classifies a stream from its header bytes.
func (d *Detector) DetectReader(r io.Reader) (*ImageInfo, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	info := &ImageInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info)
	return info, nil
}

// classify marks the formats hosted vision models accept.
func (d *Detector) classify(info *ImageInfo) {
	switch info.MIMEType {
	case "image/jpeg":
		info.Supported = true
		info.Description = "JPEG image"
	case "image/png":
		info.Supported = true
		info.Description = "PNG image"
	case "image/webp":
		info.Supported = true
		info.Description = "WebP image"
	case "image/gif":
		info.Supported = true
		info.Description = "GIF image"
	default:
		info.Supported = false
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}
