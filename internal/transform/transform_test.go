package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelift/cafe24-harvester/internal/models"
)

func TestToImportRecord(t *testing.T) {
	raw := &models.RawProduct{
		SourceURL:       "https://shop.example.com/p/1",
		StoreLabel:      "seoul-atelier",
		Title:           "Oversized Wool Coat",
		SKU:             "COAT-042",
		Vendor:          "Atelier Label",
		ProductType:     "Outerwear",
		Tags:            []string{"coat", "winter"},
		DescriptionHTML: "<div>detail</div>",
		Price:           189000,
		SalePrice:       151200,
		Currency:        "KRW",
		MainImage:       "images/coat_main_1.jpg",
		GalleryImages:   []string{"images/coat_gallery_1.jpg"},
		DetailImages:    []string{"images/coat_detail_1.jpg"},
	}

	record, err := ToImportRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, "seoul-atelier-oversized-wool-coat", record.Handle)
	assert.True(t, record.Published)

	require.Len(t, record.Variants, 1)
	assert.Equal(t, 151200.0, record.Variants[0].Price)
	assert.Equal(t, 189000.0, record.Variants[0].CompareAtPrice)
	assert.Equal(t, "deny", record.Variants[0].InventoryPolicy)

	require.Len(t, record.Images, 3)
	assert.Equal(t, 1, record.Images[0].Position)
	assert.Equal(t, "images/coat_main_1.jpg", record.Images[0].Src)
	assert.Equal(t, 3, record.Images[2].Position)
}

func TestToImportRecordNoDiscount(t *testing.T) {
	raw := &models.RawProduct{Title: "Plain Tee", Price: 25000}

	record, err := ToImportRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, 25000.0, record.Variants[0].Price)
	assert.Zero(t, record.Variants[0].CompareAtPrice)
}

func TestToImportRecordMissingTitle(t *testing.T) {
	_, err := ToImportRecord(&models.RawProduct{SourceURL: "https://x/1"})
	assert.ErrorIs(t, err, ErrMissingTitle)
}

func TestHandle(t *testing.T) {
	assert.Equal(t, "store-오버핏-울-코트", Handle("store", "오버핏 울 코트"))
	assert.Equal(t, "a-b-c", Handle(" a ", "B  /  C!"))
}
