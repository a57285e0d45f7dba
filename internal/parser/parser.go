package parser

import (
	"github.com/storelift/cafe24-harvester/internal/models"
)

type Parser interface {
	ParseProductPage(html, storeLabel, url string) (*models.RawProduct, error)
}
