// Package imaging locates a known supplier/policy block inside detail images
// and removes it deterministically. Matching is plain normalized
// cross-correlation over grayscale pixels; nothing here holds shared state,
// so calls are safe to run on a worker pool.
package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"
)

// ErrTemplateDrift means the live template no longer matches its persisted
// metadata record. This is a fatal configuration error: matching against a
// drifted template would silently corrupt every subsequent crop, so the run
// must abort before any fetch.
var ErrTemplateDrift = errors.New("template drift detected")

// Metadata is the persisted record accompanying the template asset.
type Metadata struct {
	ContentHash string    `json:"content_hash"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Template is the reference sub-image. Read-only to the core.
type Template struct {
	Image       image.Image
	Width       int
	Height      int
	ContentHash string
	UpdatedAt   time.Time

	gray grayImage
}

// LoadTemplate reads the template image and verifies it against the persisted
// metadata record.
func LoadTemplate(imagePath, metadataPath string) (*Template, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template image: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	metaData, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse template metadata: %w", err)
	}

	if meta.ContentHash != hash {
		return nil, fmt.Errorf("%w: stored %s, loaded %s", ErrTemplateDrift, meta.ContentHash, hash)
	}

	img, _, err := image.Decode(bytesReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode template image: %w", err)
	}

	bounds := img.Bounds()
	if meta.Width != 0 && (meta.Width != bounds.Dx() || meta.Height != bounds.Dy()) {
		return nil, fmt.Errorf("%w: stored %dx%d, loaded %dx%d",
			ErrTemplateDrift, meta.Width, meta.Height, bounds.Dx(), bounds.Dy())
	}

	return NewTemplate(img, hash, meta.UpdatedAt), nil
}

// NewTemplate wraps an already-decoded template image. Used by tests and by
// operator tooling that writes the metadata record.
func NewTemplate(img image.Image, hash string, updatedAt time.Time) *Template {
	bounds := img.Bounds()
	return &Template{
		Image:       img,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		ContentHash: hash,
		UpdatedAt:   updatedAt,
		gray:        toGray(img),
	}
}

// WriteMetadata persists the record for a template asset. Operator action,
// not called during a run.
func WriteMetadata(imagePath, metadataPath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read template image: %w", err)
	}

	sum := sha256.Sum256(data)

	img, _, err := image.Decode(bytesReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode template image: %w", err)
	}

	meta := Metadata{
		ContentHash: hex.EncodeToString(sum[:]),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		UpdatedAt:   time.Now(),
	}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(metadataPath, out, 0o644)
}
