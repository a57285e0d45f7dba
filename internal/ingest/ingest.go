package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/storelift/cafe24-harvester/internal/models"
)

var (
	ErrEmptyInput        = errors.New("input file contains no product URLs")
	ErrUnsupportedFormat = errors.New("unsupported input format")
)

// LoadInputs reads product URLs from a CSV or JSON file, dispatching on the
// file extension. Duplicate URLs are dropped, keeping the first occurrence.
func LoadInputs(path string) ([]models.ProductInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var inputs []models.ProductInput
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		inputs, err = parseCSV(f)
	case ".json":
		inputs, err = parseJSON(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	inputs = dedupe(inputs)
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}
	return inputs, nil
}

func parseCSV(r io.Reader) ([]models.ProductInput, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	storeCol, urlCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "store":
			storeCol = i
		case "url":
			urlCol = i
		}
	}
	if urlCol < 0 {
		return nil, errors.New("CSV header is missing the url column")
	}

	var inputs []models.ProductInput
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		input := models.ProductInput{URL: strings.TrimSpace(record[urlCol])}
		if storeCol >= 0 && storeCol < len(record) {
			input.StoreLabel = strings.TrimSpace(record[storeCol])
		}
		if input.URL == "" {
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func parseJSON(r io.Reader) ([]models.ProductInput, error) {
	var inputs []models.ProductInput
	if err := json.NewDecoder(r).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("failed to decode JSON input: %w", err)
	}

	filtered := inputs[:0]
	for _, input := range inputs {
		input.URL = strings.TrimSpace(input.URL)
		if input.URL != "" {
			filtered = append(filtered, input)
		}
	}
	return filtered, nil
}

func dedupe(inputs []models.ProductInput) []models.ProductInput {
	seen := make(map[string]struct{}, len(inputs))
	out := inputs[:0]
	for _, input := range inputs {
		if _, ok := seen[input.URL]; ok {
			continue
		}
		seen[input.URL] = struct{}{}
		out = append(out, input)
	}
	return out
}
