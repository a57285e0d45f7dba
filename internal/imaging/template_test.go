package imaging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplateFiles(t *testing.T) (imagePath, metadataPath string) {
	t.Helper()
	dir := t.TempDir()
	imagePath = filepath.Join(dir, "template.png")
	metadataPath = filepath.Join(dir, "template.json")

	require.NoError(t, SaveImage(patternTemplate(24, 16), imagePath, 0))
	require.NoError(t, WriteMetadata(imagePath, metadataPath))
	return imagePath, metadataPath
}

func TestLoadTemplateVerified(t *testing.T) {
	imagePath, metadataPath := writeTemplateFiles(t)

	tpl, err := LoadTemplate(imagePath, metadataPath)
	require.NoError(t, err)
	assert.Equal(t, 24, tpl.Width)
	assert.Equal(t, 16, tpl.Height)
	assert.NotEmpty(t, tpl.ContentHash)
}

func TestLoadTemplateDetectsDrift(t *testing.T) {
	imagePath, metadataPath := writeTemplateFiles(t)

	// template asset replaced after its metadata was recorded
	require.NoError(t, SaveImage(patternTemplate(24, 17), imagePath, 0))

	_, err := LoadTemplate(imagePath, metadataPath)
	assert.ErrorIs(t, err, ErrTemplateDrift)
}

func TestLoadTemplateMissingMetadata(t *testing.T) {
	imagePath, metadataPath := writeTemplateFiles(t)
	require.NoError(t, os.Remove(metadataPath))

	_, err := LoadTemplate(imagePath, metadataPath)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTemplateDrift)
}

func TestOptimizeDownscalesWideImages(t *testing.T) {
	img := rowColored(2400, 1000)

	out := Optimize(img, 1200)
	assert.Equal(t, 1200, out.Bounds().Dx())
	assert.Equal(t, 500, out.Bounds().Dy())
}

func TestOptimizeLeavesNarrowImagesAlone(t *testing.T) {
	img := rowColored(800, 600)

	out := Optimize(img, 1200)
	assert.Same(t, img, out)
}
