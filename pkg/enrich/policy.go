package enrich

import (
	"strings"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/models"
)

// DescriptionPolicy returns the description fields to fill for item, or
// nothing when no description is needed. Only empty fields are returned.
type DescriptionPolicy func(item models.CatalogItem, fields []models.DescriptionField) []models.DescriptionField

// PolicyFor maps the configured policy name; unknown names use any_empty
func PolicyFor(name string) DescriptionPolicy {
	switch name {
	case config.PolicyAllEmpty:
		return AllEmpty
	case config.PolicyFieldByField:
		return FieldByField
	}
	return AnyEmpty
}

func emptyFields(item models.CatalogItem, fields []models.DescriptionField) []models.DescriptionField {
	var out []models.DescriptionField
	for _, f := range fields {
		if strings.TrimSpace(item.Description(f)) == "" {
			out = append(out, f)
		}
	}
	return out
}

// AnyEmpty fills every empty field as soon as one is empty
func AnyEmpty(item models.CatalogItem, fields []models.DescriptionField) []models.DescriptionField {
	return emptyFields(item, fields)
}

// AllEmpty acts only when no field has any text
func AllEmpty(item models.CatalogItem, fields []models.DescriptionField) []models.DescriptionField {
	empty := emptyFields(item, fields)
	if len(empty) != len(fields) {
		return nil
	}
	return empty
}

// FieldByField fills the first empty field per run
func FieldByField(item models.CatalogItem, fields []models.DescriptionField) []models.DescriptionField {
	empty := emptyFields(item, fields)
	if len(empty) == 0 {
		return nil
	}
	return empty[:1]
}

// ParseFields converts configured field names, ignoring unknown ones
func ParseFields(names []string) []models.DescriptionField {
	var out []models.DescriptionField
	for _, n := range names {
		switch f := models.DescriptionField(strings.ToLower(strings.TrimSpace(n))); f {
		case models.DescriptionInternal, models.DescriptionSale, models.DescriptionWebsite:
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = []models.DescriptionField{models.DescriptionSale}
	}
	return out
}
