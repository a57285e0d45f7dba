package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/storelift/cafe24-harvester/internal/models"
)

var ErrMissingTitle = errors.New("product has no title")

var handleSanitizer = regexp.MustCompile(`[^a-z0-9가-힣]+`)

// ToImportRecord maps an extracted product into the commerce import schema.
// The sale price becomes the effective selling price, with the original
// price carried as compare-at when a discount exists.
func ToImportRecord(raw *models.RawProduct) (*models.ImportRecord, error) {
	if strings.TrimSpace(raw.Title) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingTitle, raw.SourceURL)
	}

	price, compareAt := effectivePrice(raw.Price, raw.SalePrice)

	record := &models.ImportRecord{
		Handle:      Handle(raw.StoreLabel, raw.Title),
		Title:       strings.TrimSpace(raw.Title),
		BodyHTML:    raw.DescriptionHTML,
		Vendor:      raw.Vendor,
		ProductType: raw.ProductType,
		Tags:        raw.Tags,
		Published:   true,
		Variants: []models.ImportVariant{
			{
				SKU:              raw.SKU,
				Price:            price,
				CompareAtPrice:   compareAt,
				RequiresShipping: true,
				InventoryQty:     0,
				InventoryPolicy:  "deny",
				Fulfillment:      "manual",
				Option1Name:      "Title",
				Option1Value:     "Default Title",
			},
		},
		Images: buildImages(raw),
	}
	return record, nil
}

func effectivePrice(price, salePrice float64) (effective, compareAt float64) {
	if salePrice > 0 && salePrice < price {
		return salePrice, price
	}
	return price, 0
}

func buildImages(raw *models.RawProduct) []models.ImportImage {
	images := make([]models.ImportImage, 0, 1+len(raw.GalleryImages)+len(raw.DetailImages))
	position := 1

	add := func(src string) {
		if src == "" {
			return
		}
		images = append(images, models.ImportImage{
			Src:      src,
			Position: position,
			AltText:  raw.Title,
		})
		position++
	}

	add(raw.MainImage)
	for _, src := range raw.GalleryImages {
		add(src)
	}
	for _, src := range raw.DetailImages {
		add(src)
	}
	return images
}

// Handle builds a URL-safe product handle from the store label and title.
func Handle(storeLabel, title string) string {
	combined := strings.ToLower(strings.TrimSpace(storeLabel + " " + title))
	slug := handleSanitizer.ReplaceAllString(combined, "-")
	return strings.Trim(slug, "-")
}
