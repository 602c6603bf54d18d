package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/describe"
	"github.com/local/imagedescriber/internal/filetype"
)

const multipartMemory = 8 << 20

var sniffer = filetype.New()

// analyzeRequest is the JSON body. Image is kept raw so a non-string value
// can be rejected explicitly.
type analyzeRequest struct {
	Image    json.RawMessage `json:"image"`
	ImageRef string          `json:"image_ref"`
}

// readImage normalizes the request body into an Image. Every validation
// failure is returned before any upstream call is made.
func (s *Server) readImage(r *http.Request) (describe.Image, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.readMultipart(r)
	}
	return s.readJSON(r)
}

func (s *Server) readJSON(r *http.Request) (describe.Image, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return describe.Image{}, bodyError(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return describe.Image{}, &describe.ValidationError{Message: describe.MsgImageMissing}
	}
	var req analyzeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return describe.Image{}, &describe.ValidationError{Message: "invalid JSON body"}
	}

	switch img := bytes.TrimSpace(req.Image); {
	case len(img) > 0 && !bytes.Equal(img, []byte("null")):
		var str string
		if err := json.Unmarshal(img, &str); err != nil {
			return describe.Image{}, &describe.ValidationError{Message: "image must be a string"}
		}
		return describe.NormalizeString(str)
	case strings.TrimSpace(req.ImageRef) != "":
		return s.readRef(r, req.ImageRef)
	}
	return describe.Image{}, &describe.ValidationError{Message: describe.MsgImageMissing}
}

func (s *Server) readRef(r *http.Request, ref string) (describe.Image, error) {
	if s.deps.Fetcher == nil {
		return describe.Image{}, &describe.ValidationError{Message: "remote image references are disabled"}
	}
	path, err := s.deps.Fetcher.Fetch(r.Context(), ref)
	if err != nil {
		return describe.Image{}, err
	}
	return describe.FromFile(path, true)
}

func (s *Server) readMultipart(r *http.Request) (describe.Image, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return describe.Image{}, bodyError(err)
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("failed to remove multipart temp files")
		}
	}()

	for _, field := range []string{"image", "file"} {
		file, hdr, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return describe.Image{}, bodyError(err)
		}
		defer file.Close()
		path, err := s.spool(file, hdr)
		if err != nil {
			return describe.Image{}, err
		}
		return describe.FromFile(path, true)
	}

	if v := r.FormValue("image"); v != "" {
		return describe.NormalizeString(v)
	}
	if ref := r.FormValue("image_ref"); ref != "" {
		return s.readRef(r, ref)
	}
	return describe.Image{}, &describe.ValidationError{Message: describe.MsgImageMissing}
}

// spool copies an upload to UploadDir under a unique name.
func (s *Server) spool(file multipart.File, hdr *multipart.FileHeader) (string, error) {
	dir := s.deps.Config.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if hdr.Size == 0 {
		return "", &describe.ValidationError{Message: describe.MsgImageMissing}
	}
	// sniff before touching disk so unsupported uploads are never spooled
	info, err := sniffer.DetectReader(file)
	if err != nil {
		return "", bodyError(err)
	}
	if !info.Supported {
		return "", &describe.ValidationError{Message: info.Description}
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}
	localPath := filepath.Join(dir, uuid.NewString()+"_"+name)
	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(localPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(localPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return localPath, nil
}

// bodyError maps body read failures to validation errors.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &describe.ValidationError{Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)}
	}
	return &describe.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)}
}
