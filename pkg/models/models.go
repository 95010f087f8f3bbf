package models

import (
	"fmt"
	"strings"
	"time"
)

// Identifiers are the exact-match codes a catalog item may carry
type Identifiers struct {
	SKU string `json:"sku,omitempty" yaml:"sku,omitempty"`
	EAN string `json:"ean,omitempty" yaml:"ean,omitempty"` // Barcode
	UPC string `json:"upc,omitempty" yaml:"upc,omitempty"`
	MPN string `json:"mpn,omitempty" yaml:"mpn,omitempty"` // Manufacturer part number
}

// IsEmpty reports whether no identifier is set
func (i Identifiers) IsEmpty() bool {
	return strings.TrimSpace(i.SKU) == "" && strings.TrimSpace(i.EAN) == "" &&
		strings.TrimSpace(i.UPC) == "" && strings.TrimSpace(i.MPN) == ""
}

// DescriptionField names one of the item's description slots
type DescriptionField string

const (
	DescriptionInternal DescriptionField = "internal"
	DescriptionSale     DescriptionField = "sale"
	DescriptionWebsite  DescriptionField = "website"
)

// CatalogItem is a product record as read from the catalog store
type CatalogItem struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Category    string      `json:"category,omitempty" yaml:"category,omitempty"`
	Brand       string      `json:"brand,omitempty" yaml:"brand,omitempty"`
	Identifiers Identifiers `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`
	SaleOK      bool        `json:"sale_ok" yaml:"sale_ok"`

	ImageAttachmentID string `json:"image_attachment_id,omitempty" yaml:"image_attachment_id,omitempty"`

	InternalDescription string `json:"internal_description,omitempty" yaml:"internal_description,omitempty"`
	SaleDescription     string `json:"sale_description,omitempty" yaml:"sale_description,omitempty"`
	WebsiteDescription  string `json:"website_description,omitempty" yaml:"website_description,omitempty"`

	// Fetch bookkeeping
	LastFetchAt   time.Time   `json:"last_fetch_at,omitempty" yaml:"last_fetch_at,omitempty"`
	FetchAttempts int         `json:"fetch_attempts,omitempty" yaml:"fetch_attempts,omitempty"`
	LastSource    ImageSource `json:"last_source,omitempty" yaml:"last_source,omitempty"`
	QualityScore  int         `json:"quality_score,omitempty" yaml:"quality_score,omitempty"`
}

// HasImage reports whether the item already has an image attached
func (c CatalogItem) HasImage() bool {
	return c.ImageAttachmentID != ""
}

// Description returns the current value of a description slot
func (c CatalogItem) Description(field DescriptionField) string {
	switch field {
	case DescriptionInternal:
		return c.InternalDescription
	case DescriptionSale:
		return c.SaleDescription
	case DescriptionWebsite:
		return c.WebsiteDescription
	}
	return ""
}

// ItemUpdate is a sparse set of field writes; nil fields are left untouched
type ItemUpdate struct {
	ImageAttachmentID   *string      `json:"image_attachment_id,omitempty"`
	InternalDescription *string      `json:"internal_description,omitempty"`
	SaleDescription     *string      `json:"sale_description,omitempty"`
	WebsiteDescription  *string      `json:"website_description,omitempty"`
	LastFetchAt         *time.Time   `json:"last_fetch_at,omitempty"`
	FetchAttempts       *int         `json:"fetch_attempts,omitempty"`
	LastSource          *ImageSource `json:"last_source,omitempty"`
	QualityScore        *int         `json:"quality_score,omitempty"`
}

// SetDescription stages a write to the given description slot
func (u *ItemUpdate) SetDescription(field DescriptionField, text string) {
	v := text
	switch field {
	case DescriptionInternal:
		u.InternalDescription = &v
	case DescriptionSale:
		u.SaleDescription = &v
	case DescriptionWebsite:
		u.WebsiteDescription = &v
	}
}

// IsEmpty reports whether the update writes nothing
func (u ItemUpdate) IsEmpty() bool {
	return u.ImageAttachmentID == nil && u.InternalDescription == nil && u.SaleDescription == nil &&
		u.WebsiteDescription == nil && u.LastFetchAt == nil && u.FetchAttempts == nil &&
		u.LastSource == nil && u.QualityScore == nil
}

// Apply writes the non-nil fields onto item. Description slots are only
// filled when they are still empty at the time of the write.
func (u ItemUpdate) Apply(item *CatalogItem) {
	if u.ImageAttachmentID != nil {
		item.ImageAttachmentID = *u.ImageAttachmentID
	}
	fillEmpty(&item.InternalDescription, u.InternalDescription)
	fillEmpty(&item.SaleDescription, u.SaleDescription)
	fillEmpty(&item.WebsiteDescription, u.WebsiteDescription)
	if u.LastFetchAt != nil {
		item.LastFetchAt = *u.LastFetchAt
	}
	if u.FetchAttempts != nil {
		item.FetchAttempts = *u.FetchAttempts
	}
	if u.LastSource != nil {
		item.LastSource = *u.LastSource
	}
	if u.QualityScore != nil {
		item.QualityScore = *u.QualityScore
	}
}

func fillEmpty(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*dst) == "" {
		*dst = *v
	}
}

// Attachment is a stored image linked to a catalog item
type Attachment struct {
	ID        string      `json:"id"`
	ItemID    string      `json:"item_id"`
	Name      string      `json:"name"`
	MimeType  string      `json:"mimetype"`
	Checksum  string      `json:"checksum"` // SHA-256 hex of the bytes; also the blob key
	Size      int64       `json:"size"`
	Width     int         `json:"width,omitempty"`
	Height    int         `json:"height,omitempty"`
	Source    ImageSource `json:"source,omitempty"`
	SourceURL string      `json:"source_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Candidate is an unvalidated image reference returned by a provider
type Candidate struct {
	URL    string      `json:"url"`
	Title  string      `json:"title,omitempty"`
	Width  int         `json:"width,omitempty"` // As reported by the provider; 0 if unknown
	Height int         `json:"height,omitempty"`
	Source ImageSource `json:"source"`
}

// Snippet is a text result returned by a web search provider
type Snippet struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Link  string `json:"link,omitempty"`
}

// ValidatedImage is a downloaded image that passed every constraint
type ValidatedImage struct {
	Data     []byte
	Width    int
	Height   int
	Format   string // Decoder name: jpeg, png, gif, webp, bmp
	MimeType string
	Size     int64
	Score    int
	Source   ImageSource
	URL      string
}

// Dimensions renders the image size as "WxH"
func (v ValidatedImage) Dimensions() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// LogEntry is one append-only audit record
type LogEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	ItemID    string        `json:"item_id,omitempty"`
	ItemName  string        `json:"item_name,omitempty"`
	SKU       string        `json:"sku,omitempty"`
	EAN       string        `json:"ean,omitempty"`
	BatchID   string        `json:"batch_id,omitempty"`
	JobType   JobType       `json:"job_type,omitempty"`
	Operation OperationType `json:"operation"`
	Status    LogStatus     `json:"status"`
	Message   string        `json:"message"`
	Error     string        `json:"error_details,omitempty"`

	// Image metadata (success only)
	ImageSource  ImageSource `json:"image_source,omitempty"`
	ImageURL     string      `json:"image_url,omitempty"`
	ImageSize    string      `json:"image_size,omitempty"` // "WxH"
	ImageFormat  string      `json:"image_format,omitempty"`
	FileSizeKB   float64     `json:"file_size_kb,omitempty"`
	QualityScore int         `json:"quality_score,omitempty"`

	DescriptionLength int   `json:"description_length,omitempty"`
	ElapsedMS         int64 `json:"elapsed_ms"`
}

// ForItem fills the item-identifying fields of the entry
func (e *LogEntry) ForItem(item CatalogItem) {
	e.ItemID = item.ID
	e.ItemName = item.Name
	e.SKU = item.Identifiers.SKU
	e.EAN = item.Identifiers.EAN
}
