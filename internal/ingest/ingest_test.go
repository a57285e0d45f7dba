package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelift/cafe24-harvester/internal/models"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadInputsCSV(t *testing.T) {
	path := writeInput(t, "inputs.csv", `store,url
seoul-atelier,https://shop.example.com/p/1
seoul-atelier,https://shop.example.com/p/2
`)

	inputs, err := LoadInputs(path)
	require.NoError(t, err)

	assert.Equal(t, []models.ProductInput{
		{StoreLabel: "seoul-atelier", URL: "https://shop.example.com/p/1"},
		{StoreLabel: "seoul-atelier", URL: "https://shop.example.com/p/2"},
	}, inputs)
}

func TestLoadInputsCSVDeduplicatesKeepingFirst(t *testing.T) {
	path := writeInput(t, "inputs.csv", `store,url
first-store,https://shop.example.com/p/1
second-store,https://shop.example.com/p/1
other,https://shop.example.com/p/2
`)

	inputs, err := LoadInputs(path)
	require.NoError(t, err)

	require.Len(t, inputs, 2)
	assert.Equal(t, "first-store", inputs[0].StoreLabel)
}

func TestLoadInputsJSON(t *testing.T) {
	path := writeInput(t, "inputs.json", `[
  {"store": "a", "url": "https://shop.example.com/p/1"},
  {"store": "a", "url": " "},
  {"store": "b", "url": "https://shop.example.com/p/2"}
]`)

	inputs, err := LoadInputs(path)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "https://shop.example.com/p/2", inputs[1].URL)
}

func TestLoadInputsEmptyFile(t *testing.T) {
	path := writeInput(t, "inputs.csv", "store,url\n")

	_, err := LoadInputs(path)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLoadInputsUnsupportedExtension(t *testing.T) {
	path := writeInput(t, "inputs.yaml", "store: a")

	_, err := LoadInputs(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
