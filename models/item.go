// Package models defines data structures for the crawler.
package models

import "time"

// Field names of an Item, in export order.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldManufacturer = "manufacturer"
	FieldType         = "type"
	FieldSocket       = "socket"
	FieldCores        = "cores"
	FieldLink         = "link"
	FieldUpdatedAt    = "updated_at"
	FieldViews        = "views"
	FieldPrice        = "price"
	FieldRegion       = "region"
	FieldContacts     = "contacts"
)

// ItemFields lists every Item field name in export order.
var ItemFields = []string{
	FieldTitle,
	FieldDescription,
	FieldManufacturer,
	FieldType,
	FieldSocket,
	FieldCores,
	FieldLink,
	FieldUpdatedAt,
	FieldViews,
	FieldPrice,
	FieldRegion,
	FieldContacts,
}

// Item is one detail page. Link is the canonical detail-page URL and the
// identity key of the item. Fields that could not be extracted are empty,
// never missing.
type Item struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer"`
	Type         string `json:"type"`
	Socket       string `json:"socket"`
	Cores        string `json:"cores"`
	Link         string `json:"link"`
	UpdatedAt    string `json:"updated_at"`
	Views        string `json:"views"`
	Price        string `json:"price"`
	Region       string `json:"region"`
	Contacts     string `json:"contacts"`
}

// NewItem builds an item for link from extracted field values. The link
// always comes from the argument, a "link" entry in values is ignored.
func NewItem(link string, values map[string]string) *Item {
	item := &Item{}
	for name, value := range values {
		if name == FieldLink {
			continue
		}
		item.Set(name, value)
	}
	item.Link = link
	return item
}

// Set assigns value to the named field and reports whether the name is known.
func (it *Item) Set(name, value string) bool {
	if p := it.field(name); p != nil {
		*p = value
		return true
	}
	return false
}

// Get returns the named field, or "" for unknown names.
func (it *Item) Get(name string) string {
	if p := it.field(name); p != nil {
		return *p
	}
	return ""
}

// Record flattens the item into an ordered row.
func (it *Item) Record() Record {
	record := make(Record, 0, len(ItemFields))
	for _, name := range ItemFields {
		record = append(record, Field{Name: name, Value: it.Get(name)})
	}
	return record
}

func (it *Item) field(name string) *string {
	switch name {
	case FieldTitle:
		return &it.Title
	case FieldDescription:
		return &it.Description
	case FieldManufacturer:
		return &it.Manufacturer
	case FieldType:
		return &it.Type
	case FieldSocket:
		return &it.Socket
	case FieldCores:
		return &it.Cores
	case FieldLink:
		return &it.Link
	case FieldUpdatedAt:
		return &it.UpdatedAt
	case FieldViews:
		return &it.Views
	case FieldPrice:
		return &it.Price
	case FieldRegion:
		return &it.Region
	case FieldContacts:
		return &it.Contacts
	}
	return nil
}

// CrawlResult summarises one crawler run.
type CrawlResult struct {
	Items              []*Item
	StartTime          time.Time
	EndTime            time.Time
	State              string
	PageCount          int
	PagesProcessed     int
	LoadedCount        int
	ScrapedCount       int
	DuplicateCount     int
	FailedURLs         []string
	InvalidCount       int
	CheckpointFailures int
	Exported           bool
}
