// Package storage keeps chat attachments on local disk.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"lingochat/internal/models"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// URLPrefix is the public path attachments are served under.
	URLPrefix = "/uploads/chat/"
	// DefaultMaxBytes caps a single upload.
	DefaultMaxBytes = 20 * 1024 * 1024

	thumbnailMaxSize = 320
	thumbnailQuality = 70
	thumbnailSuffix  = "_thumb.webp"
)

// ErrEmptyFile is returned when an upload has no content.
var ErrEmptyFile = errors.New("empty file")

var storedName = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,8})?$`)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// AttachmentStore persists uploaded attachment files.
type AttachmentStore interface {
	Save(ctx context.Context, in SaveInput) (*models.Attachment, error)
	DeleteByURL(ctx context.Context, url string) error
}

// SaveInput is one uploaded file.
type SaveInput struct {
	Filename    string
	ContentType string
	Content     []byte
}

// LocalStore writes attachments to <root>/chat.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore returns a store rooted at uploadDir. maxBytes <= 0 uses DefaultMaxBytes.
func NewLocalStore(uploadDir string, maxBytes int64) *LocalStore {
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &LocalStore{
		dir:      filepath.Join(uploadDir, "chat"),
		maxBytes: maxBytes,
	}
}

// Dir returns the directory files are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// MaxBytes returns the upload size limit.
func (s *LocalStore) MaxBytes() int64 {
	return s.maxBytes
}

// Save stores the file under a random name and describes it as an attachment.
// Images also get their dimensions and a WebP thumbnail.
func (s *LocalStore) Save(_ context.Context, in SaveInput) (*models.Attachment, error) {
	if len(in.Content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes/(1024*1024)))
	}

	detected := normalizeContentType(http.DetectContentType(in.Content))
	mimeType := detected
	if provided := normalizeContentType(in.ContentType); provided != "" && detected == "application/octet-stream" {
		mimeType = provided
	}

	id := uuid.NewString()
	name := id + extensionFor(in.Filename, mimeType)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), in.Content, 0o644); err != nil {
		return nil, models.NewInternalError(err)
	}

	att := &models.Attachment{
		URL:  URLPrefix + name,
		Name: displayName(in.Filename, name),
		Mime: mimeType,
		Size: int64(len(in.Content)),
	}

	if strings.HasPrefix(mimeType, "image/") {
		if img, _, err := image.Decode(bytes.NewReader(in.Content)); err == nil {
			b := img.Bounds()
			att.Width, att.Height = b.Dx(), b.Dy()

			thumb, err := encodeWebP(resizeToFit(img, thumbnailMaxSize, thumbnailMaxSize), thumbnailQuality)
			if err == nil {
				thumbName := id + thumbnailSuffix
				if os.WriteFile(filepath.Join(s.dir, thumbName), thumb, 0o644) == nil {
					att.ThumbnailURL = URLPrefix + thumbName
				}
			}
		}
	}

	return att, nil
}

// DeleteByURL removes a stored attachment and its thumbnail. URLs outside
// URLPrefix are ignored; files already gone are not an error.
func (s *LocalStore) DeleteByURL(_ context.Context, url string) error {
	if !strings.HasPrefix(url, URLPrefix) {
		return nil
	}
	name := path.Base(strings.TrimPrefix(url, URLPrefix))
	if !storedName.MatchString(name) {
		return nil
	}

	if err := removeIfExists(filepath.Join(s.dir, name)); err != nil {
		return err
	}
	id := strings.TrimSuffix(name, path.Ext(name))
	return removeIfExists(filepath.Join(s.dir, id+thumbnailSuffix))
}

func removeIfExists(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func extensionFor(filename, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if extPattern.MatchString(ext) {
		return ext
	}
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 && extPattern.MatchString(exts[0]) {
		return exts[0]
	}
	return ".bin"
}

func displayName(filename, fallback string) string {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 || (w <= maxWidth && h <= maxHeight) {
		return src
	}

	scale := float64(maxWidth) / float64(w)
	if s := float64(maxHeight) / float64(h); s < scale {
		scale = s
	}
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
