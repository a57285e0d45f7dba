package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/storelift/cafe24-harvester/internal/models"
)

// shopifyColumns is the fixed header of a Shopify product import CSV.
var shopifyColumns = []string{
	"Handle",
	"Title",
	"Body (HTML)",
	"Vendor",
	"Type",
	"Tags",
	"Published",
	"Option1 Name",
	"Option1 Value",
	"Variant SKU",
	"Variant Grams",
	"Variant Inventory Qty",
	"Variant Inventory Policy",
	"Variant Fulfillment Service",
	"Variant Price",
	"Variant Compare At Price",
	"Variant Requires Shipping",
	"Image Src",
	"Image Position",
	"Image Alt Text",
}

// WriteCSV writes records as a Shopify import CSV. The first row of each
// product carries the full product and first-variant fields; additional
// rows carry only the handle plus the remaining images.
func WriteCSV(path string, records []*models.ImportRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(shopifyColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		rows := productRows(record)
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row for %s: %w", record.Handle, err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func productRows(record *models.ImportRecord) [][]string {
	rowCount := len(record.Images)
	if rowCount == 0 {
		rowCount = 1
	}

	rows := make([][]string, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		row := make([]string, len(shopifyColumns))
		row[0] = record.Handle

		if i == 0 {
			row[1] = record.Title
			row[2] = record.BodyHTML
			row[3] = record.Vendor
			row[4] = record.ProductType
			row[5] = strings.Join(record.Tags, ", ")
			row[6] = strconv.FormatBool(record.Published)
			if len(record.Variants) > 0 {
				v := record.Variants[0]
				row[7] = v.Option1Name
				row[8] = v.Option1Value
				row[9] = v.SKU
				row[10] = strconv.Itoa(v.Grams)
				row[11] = strconv.Itoa(v.InventoryQty)
				row[12] = v.InventoryPolicy
				row[13] = v.Fulfillment
				row[14] = formatPrice(v.Price)
				row[15] = formatPrice(v.CompareAtPrice)
				row[16] = strconv.FormatBool(v.RequiresShipping)
			}
		}

		if i < len(record.Images) {
			img := record.Images[i]
			row[17] = img.Src
			row[18] = strconv.Itoa(img.Position)
			row[19] = img.AltText
		}
		rows = append(rows, row)
	}
	return rows
}

func formatPrice(value float64) string {
	if value <= 0 {
		return ""
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
