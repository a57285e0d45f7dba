package models

import (
	"time"
)

// RawProduct is the intermediate representation extracted from a Cafe24
// product page before any transformation into the import schema.
type RawProduct struct {
	SourceURL       string    `json:"source_url"`
	StoreLabel      string    `json:"store_label"`
	Title           string    `json:"title"`
	SKU             string    `json:"sku"`
	Vendor          string    `json:"vendor"`
	ProductType     string    `json:"product_type"`
	Tags            []string  `json:"tags"`
	DescriptionHTML string    `json:"description_html"`
	DescriptionKO   string    `json:"description_ko,omitempty"`
	DescriptionEN   string    `json:"description_en,omitempty"`
	Price           float64   `json:"price"`
	SalePrice       float64   `json:"sale_price,omitempty"`
	Currency        string    `json:"currency"`
	MainImage       string    `json:"main_image"`
	GalleryImages   []string  `json:"gallery_images"`
	DetailImages    []string  `json:"detail_images"`
	ScrapedAt       time.Time `json:"scraped_at"`
}

func NewRawProduct(storeLabel, url string) *RawProduct {
	return &RawProduct{
		SourceURL:     url,
		StoreLabel:    storeLabel,
		Tags:          make([]string, 0),
		GalleryImages: make([]string, 0),
		DetailImages:  make([]string, 0),
		ScrapedAt:     time.Now(),
	}
}

// ImportRecord is one product mapped into the target commerce import schema.
type ImportRecord struct {
	Handle      string          `json:"handle"`
	Title       string          `json:"title"`
	BodyHTML    string          `json:"body_html"`
	Vendor      string          `json:"vendor"`
	ProductType string          `json:"product_type"`
	Tags        []string        `json:"tags"`
	Published   bool            `json:"published"`
	Variants    []ImportVariant `json:"variants"`
	Images      []ImportImage   `json:"images"`
}

type ImportVariant struct {
	SKU              string  `json:"sku"`
	Price            float64 `json:"price"`
	CompareAtPrice   float64 `json:"compare_at_price,omitempty"`
	RequiresShipping bool    `json:"requires_shipping"`
	Grams            int     `json:"grams"`
	InventoryQty     int     `json:"inventory_qty"`
	InventoryPolicy  string  `json:"inventory_policy"`
	Fulfillment      string  `json:"fulfillment_service"`
	Option1Name      string  `json:"option1_name"`
	Option1Value     string  `json:"option1_value"`
}

type ImportImage struct {
	Src      string `json:"src"`
	Position int    `json:"position"`
	AltText  string `json:"alt_text,omitempty"`
}

// ProductInput is one entry from the client-supplied URL list.
type ProductInput struct {
	StoreLabel string `json:"store"`
	URL        string `json:"url"`
}
