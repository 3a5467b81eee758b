package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// ValidateItem ensures the item carries a usable identity key.
func ValidateItem(item *models.Item) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return fmt.Errorf("item missing link")
	}
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("item link %q: %w", link, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("item link %q is not absolute", link)
	}
	return nil
}
