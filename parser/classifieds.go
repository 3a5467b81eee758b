package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/models"
)

const (
	featureKeySelector = `span.adPage__content__features__key[itemprop="name"]`
	statsSelector      = "div.adPage__aside__stats"
	footerSelector     = "div.adPage__content__footer__wrapper"
)

// NewClassifiedsExtractor returns the extraction steps for 999.md detail
// pages.
func NewClassifiedsExtractor() Steps {
	return Steps{
		{Field: models.FieldTitle, Extract: extractTitle},
		{Field: models.FieldDescription, Extract: extractDescription},
		{Field: models.FieldManufacturer, Extract: featureValue(regexp.MustCompile(`Производитель`), true)},
		{Field: models.FieldType, Extract: featureValue(regexp.MustCompile(`^\s*Тип\s*$`), false)},
		{Field: models.FieldSocket, Extract: featureValue(regexp.MustCompile(`Тип разъема`), false)},
		{Field: models.FieldCores, Extract: featureValue(regexp.MustCompile(`Количество ядер`), false)},
		{Field: models.FieldUpdatedAt, Extract: statValue("div.adPage__aside__stats__date", "", "Дата обновления:")},
		{Field: models.FieldViews, Extract: statValue("div.adPage__aside__stats__views", "span", "Просмотры:")},
		{Field: models.FieldPrice, Extract: extractPrice},
		{Field: models.FieldRegion, Extract: extractRegion},
		{Field: models.FieldContacts, Extract: extractContacts},
	}
}

func extractTitle(doc *goquery.Document) (string, error) {
	h1 := doc.Find(`h1[itemprop="name"]`).First()
	if h1.Length() == 0 {
		return "", fmt.Errorf("%w: title heading not found", ErrMalformed)
	}
	return CleanText(h1.Text()), nil
}

func extractDescription(doc *goquery.Document) (string, error) {
	description := doc.Find(`div[itemprop="description"]`).First()
	if description.Length() == 0 {
		return "", nil
	}
	return PlainText(description), nil
}

// featureValue reads the value span that follows the feature key matching
// label. Some values are wrapped in a link.
func featureValue(label *regexp.Regexp, viaAnchor bool) FieldFunc {
	return func(doc *goquery.Document) (string, error) {
		key := doc.Find(featureKeySelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return label.MatchString(s.Text())
		}).First()
		if key.Length() == 0 {
			return "", nil
		}

		value := key.NextAllFiltered("span").First()
		if value.Length() == 0 {
			return "", fmt.Errorf("%w: no value next to %q", ErrMalformed, CleanText(key.Text()))
		}
		if viaAnchor {
			value = value.Find("a").First()
			if value.Length() == 0 {
				return "", fmt.Errorf("%w: value of %q has no link", ErrMalformed, CleanText(key.Text()))
			}
		}
		return CleanText(value.Text()), nil
	}
}

// statValue reads "<label> value" from one of the aside stats blocks.
func statValue(blockSelector, inner, label string) FieldFunc {
	return func(doc *goquery.Document) (string, error) {
		stats := doc.Find(statsSelector).First()
		if stats.Length() == 0 {
			return "", fmt.Errorf("%w: stats block not found", ErrMalformed)
		}
		block := stats.Find(blockSelector).First()
		if block.Length() == 0 {
			return "", nil
		}
		if inner != "" {
			block = block.Find(inner).First()
			if block.Length() == 0 {
				return "", fmt.Errorf("%w: %s has no %s", ErrMalformed, blockSelector, inner)
			}
		}
		_, value, found := strings.Cut(block.Text(), label)
		if !found {
			return "", fmt.Errorf("%w: label %q not found", ErrMalformed, label)
		}
		return strings.TrimSpace(value), nil
	}
}

func extractPrice(doc *goquery.Document) (string, error) {
	footer := doc.Find(footerSelector).First()
	if footer.Length() == 0 {
		return "", fmt.Errorf("%w: footer not found", ErrMalformed)
	}
	price := footer.Find("li.adPage__content__price-feature__prices__price").First()
	if price.Length() == 0 {
		return "", nil
	}
	return CleanText(price.Text()), nil
}

func extractRegion(doc *goquery.Document) (string, error) {
	region := doc.Find("dl.adPage__content__region.grid_18").First()
	if region.Length() == 0 {
		return "", nil
	}
	_, value, found := strings.Cut(region.Text(), "Регион:")
	if !found {
		return "", fmt.Errorf("%w: region label not found", ErrMalformed)
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = CleanText(part)
	}
	return strings.Join(parts, ", "), nil
}

func extractContacts(doc *goquery.Document) (string, error) {
	footer := doc.Find(footerSelector).First()
	if footer.Length() == 0 {
		return "", fmt.Errorf("%w: footer not found", ErrMalformed)
	}
	href, ok := footer.Find(`a[href^="tel:"]`).First().Attr("href")
	if !ok {
		return "", nil
	}
	return CleanPhone(strings.TrimPrefix(href, "tel:")), nil
}
