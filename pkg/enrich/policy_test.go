package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/models"
)

func TestPolicies(t *testing.T) {
	fields := []models.DescriptionField{models.DescriptionSale, models.DescriptionWebsite}
	none := models.CatalogItem{}
	some := models.CatalogItem{SaleDescription: "text"}
	full := models.CatalogItem{SaleDescription: "text", WebsiteDescription: "text"}

	tests := []struct {
		name   string
		policy DescriptionPolicy
		item   models.CatalogItem
		want   []models.DescriptionField
	}{
		{"any empty, none filled", AnyEmpty, none, fields},
		{"any empty, one filled", AnyEmpty, some, []models.DescriptionField{models.DescriptionWebsite}},
		{"any empty, all filled", AnyEmpty, full, nil},
		{"all empty, none filled", AllEmpty, none, fields},
		{"all empty, one filled", AllEmpty, some, nil},
		{"field by field, none filled", FieldByField, none, []models.DescriptionField{models.DescriptionSale}},
		{"field by field, one filled", FieldByField, some, []models.DescriptionField{models.DescriptionWebsite}},
		{"field by field, all filled", FieldByField, full, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy(tt.item, fields))
		})
	}
}

func TestPolicies_WhitespaceCountsAsEmpty(t *testing.T) {
	item := models.CatalogItem{SaleDescription: "  \n"}
	assert.Equal(t, []models.DescriptionField{models.DescriptionSale},
		AnyEmpty(item, []models.DescriptionField{models.DescriptionSale}))
}

func TestPolicyFor(t *testing.T) {
	item := models.CatalogItem{SaleDescription: "text"}
	fields := []models.DescriptionField{models.DescriptionSale, models.DescriptionWebsite}

	assert.Nil(t, PolicyFor(config.PolicyAllEmpty)(item, fields))
	assert.Len(t, PolicyFor(config.PolicyFieldByField)(models.CatalogItem{}, fields), 1)
	assert.Len(t, PolicyFor("unknown")(models.CatalogItem{}, fields), 2)
}

func TestParseFields(t *testing.T) {
	assert.Equal(t, []models.DescriptionField{models.DescriptionSale}, ParseFields(nil))
	assert.Equal(t, []models.DescriptionField{models.DescriptionSale}, ParseFields([]string{"bogus"}))
	assert.Equal(t,
		[]models.DescriptionField{models.DescriptionWebsite, models.DescriptionInternal},
		ParseFields([]string{" Website ", "internal", "nope"}))
}
