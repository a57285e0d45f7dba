package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/storelift/cafe24-harvester/internal/models"
)

// Cafe24Parser extracts structured product data from Cafe24 product pages.
// It prefers OpenGraph/meta values and falls back to theme DOM selectors,
// since Cafe24 shops vary wildly in markup.
type Cafe24Parser struct{}

func NewCafe24Parser() *Cafe24Parser {
	return &Cafe24Parser{}
}

func (p *Cafe24Parser) ParseProductPage(html, storeLabel, pageURL string) (*models.RawProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	raw := models.NewRawProduct(storeLabel, pageURL)

	raw.Title = p.extractTitle(doc)
	raw.SKU = p.extractSKU(doc)
	raw.Vendor = p.extractVendor(doc)
	raw.ProductType = p.extractProductType(doc)
	raw.Tags = p.extractTags(doc)
	raw.DescriptionHTML = p.extractDescription(doc)
	raw.DescriptionKO, raw.DescriptionEN = p.extractMultilingual(doc)
	raw.Price, raw.SalePrice, raw.Currency = p.extractPrice(doc)
	raw.MainImage, raw.GalleryImages = p.extractImages(doc, pageURL)
	raw.DetailImages = p.extractDetailImages(doc, pageURL)

	return raw, nil
}

func (p *Cafe24Parser) extractTitle(doc *goquery.Document) string {
	if content, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && content != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(doc.Find(".product_tit, #prdDetail h2, .infoArea h3").First().Text())
}

func (p *Cafe24Parser) extractSKU(doc *goquery.Document) string {
	if text := strings.TrimSpace(doc.Find(".product_sku, .infoArea .info li span.sku").First().Text()); text != "" {
		return text
	}
	if content, ok := doc.Find("meta[property='product:retailer_item_id']").Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

func (p *Cafe24Parser) extractVendor(doc *goquery.Document) string {
	var vendor string
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		header := strings.ToLower(strings.TrimSpace(row.Find("th").First().Text()))
		if strings.Contains(header, "brand") {
			if value := strings.TrimSpace(row.Find("td").First().Text()); value != "" {
				vendor = value
				return false
			}
		}
		return true
	})
	if vendor != "" {
		return vendor
	}

	if content, ok := doc.Find("meta[property='og:site_name']").Attr("content"); ok && content != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(doc.Find(".product_vendor, .infoArea .info li span.supplier").First().Text())
}

func (p *Cafe24Parser) extractProductType(doc *goquery.Document) string {
	if content, ok := doc.Find("meta[property='product:category']").Attr("content"); ok && content != "" {
		return strings.TrimSpace(content)
	}

	crumbs := doc.Find(".path li a, .xans-product-menupackage a, nav.breadcrumb a")
	if crumbs.Length() > 0 {
		return strings.TrimSpace(crumbs.Last().Text())
	}
	return ""
}

func (p *Cafe24Parser) extractTags(doc *goquery.Document) []string {
	tags := make([]string, 0)

	doc.Find(".product_tags a").Each(func(_ int, node *goquery.Selection) {
		if text := strings.TrimSpace(node.Text()); text != "" {
			tags = append(tags, text)
		}
	})
	if len(tags) > 0 {
		return tags
	}

	if content, ok := doc.Find("meta[name='keywords']").Attr("content"); ok {
		for _, tag := range strings.Split(content, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}
	return tags
}

func (p *Cafe24Parser) extractDescription(doc *goquery.Document) string {
	section := doc.Find("#prdDetail, .cont_detail, .productDetail").First()
	if section.Length() == 0 {
		return ""
	}
	html, err := goquery.OuterHtml(section)
	if err != nil {
		return ""
	}
	return html
}

func (p *Cafe24Parser) extractMultilingual(doc *goquery.Document) (ko, en string) {
	ko = strings.TrimSpace(doc.Find(".product-detail-ko, [lang=ko]").First().Text())
	en = strings.TrimSpace(doc.Find(".product-detail-en, [lang=en]").First().Text())
	return ko, en
}

func (p *Cafe24Parser) extractPrice(doc *goquery.Document) (price, salePrice float64, currency string) {
	if content, ok := doc.Find("meta[property='product:price:currency']").Attr("content"); ok {
		currency = strings.TrimSpace(content)
	}

	if content, ok := doc.Find("meta[property='product:price:amount']").Attr("content"); ok {
		price = parseAmount(content)
	}
	if content, ok := doc.Find("meta[property='product:sale_price:amount']").Attr("content"); ok {
		salePrice = parseAmount(content)
	}
	if price > 0 {
		return price, salePrice, currency
	}

	price = parseAmount(doc.Find(".product_price, .price .sell").First().Text())
	salePrice = parseAmount(doc.Find(".price .strike").First().Text())
	return price, salePrice, currency
}

func (p *Cafe24Parser) extractImages(doc *goquery.Document, pageURL string) (main string, gallery []string) {
	if content, ok := doc.Find("meta[property='og:image']").Attr("content"); ok && content != "" {
		main = absoluteURL(content, pageURL)
	}

	gallery = make([]string, 0)
	doc.Find(".product_thumbs img, .xans-product-addimage img").Each(func(_ int, node *goquery.Selection) {
		if src := imageSrc(node); src != "" {
			gallery = append(gallery, absoluteURL(src, pageURL))
		}
	})
	return main, gallery
}

func (p *Cafe24Parser) extractDetailImages(doc *goquery.Document, pageURL string) []string {
	images := make([]string, 0)

	section := doc.Find("#prdDetail, .cont_detail, .productDetail").First()
	if section.Length() == 0 {
		return images
	}

	section.Find("img").Each(func(_ int, node *goquery.Selection) {
		if src := imageSrc(node); src != "" {
			images = append(images, absoluteURL(src, pageURL))
		}
	})
	return images
}

func imageSrc(node *goquery.Selection) string {
	if src, ok := node.Attr("data-src"); ok && src != "" {
		return strings.TrimSpace(src)
	}
	if src, ok := node.Attr("src"); ok && src != "" {
		return strings.TrimSpace(src)
	}
	return ""
}

func parseAmount(value string) float64 {
	cleaned := strings.NewReplacer(",", "", "₩", "", "원", "").Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return 0
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return amount
}

func absoluteURL(src, base string) string {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return baseURL.ResolveReference(ref).String()
}
