package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/fetch"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/signing"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const (
	searchItemsPath   = "/paapi5/searchitems"
	searchItemsTarget = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.SearchItems"
)

var marketplaceResources = []string{
	"Images.Primary.Large",
	"Images.Primary.Medium",
	"ItemInfo.Title",
	"ItemInfo.ProductInfo",
}

type searchItemsRequest struct {
	Keywords    string   `json:"Keywords"`
	Marketplace string   `json:"Marketplace"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Resources   []string `json:"Resources"`
	ItemCount   int      `json:"ItemCount"`
	SearchIndex string   `json:"SearchIndex"`
}

type paImage struct {
	URL    string `json:"URL"`
	Width  int    `json:"Width"`
	Height int    `json:"Height"`
}

// Every level is optional; missing pieces decode to zero values
type searchItemsResponse struct {
	SearchResult struct {
		Items []struct {
			ASIN   string `json:"ASIN"`
			Images struct {
				Primary struct {
					Large  *paImage `json:"Large"`
					Medium *paImage `json:"Medium"`
				} `json:"Primary"`
			} `json:"Images"`
			ItemInfo struct {
				Title struct {
					DisplayValue string `json:"DisplayValue"`
				} `json:"Title"`
			} `json:"ItemInfo"`
		} `json:"Items"`
	} `json:"SearchResult"`
	Errors []struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Errors"`
}

// MarketplaceClient queries the signed product advertising API
type MarketplaceClient struct {
	cfg      config.MarketplaceConfig
	market   config.MarketplaceEndpoint
	endpoint string
	caller   *fetch.Caller
	signer   *signing.Signer
	log      *logrus.Entry
}

// NewMarketplaceClient creates the client for cfg.Marketplace (US when unknown)
func NewMarketplaceClient(cfg config.MarketplaceConfig, caller *fetch.Caller, log *logrus.Entry) *MarketplaceClient {
	market, ok := config.Marketplaces[strings.ToUpper(cfg.Marketplace)]
	if !ok {
		market = config.Marketplaces["US"]
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://" + market.Host
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	return &MarketplaceClient{
		cfg:      cfg,
		market:   market,
		endpoint: endpoint,
		caller:   caller,
		signer:   signing.NewSigner(creds, market.Region, signing.DefaultService),
		log:      log.WithField("provider", models.SourceMarketplace.String()),
	}
}

// WithSigner replaces the request signer
func (c *MarketplaceClient) WithSigner(s *signing.Signer) *MarketplaceClient {
	c.signer = s
	return c
}

func (c *MarketplaceClient) Source() models.ImageSource { return models.SourceMarketplace }

// Configured reports missing credentials as ErrProviderConfig
func (c *MarketplaceClient) Configured() error {
	if c.cfg.AccessKey == "" || c.cfg.SecretKey == "" || c.cfg.PartnerTag == "" {
		return fmt.Errorf("%w: marketplace access key, secret key and partner tag are required", utils.ErrProviderConfig)
	}
	return nil
}

// SearchImages tries exact identifier lookups first and falls back to keywords
func (c *MarketplaceClient) SearchImages(ctx context.Context, q Query) ([]models.Candidate, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}

	for _, id := range identifierLookups(q.Identifiers) {
		cands, err := c.search(ctx, id)
		if err != nil {
			if isHardError(ctx, err) {
				return nil, err
			}
			c.log.WithField("identifier", id).Warnf("Identifier lookup failed: %v", err)
			continue
		}
		if len(cands) > 0 {
			c.log.WithField("identifier", id).Debugf("Identifier lookup returned %d candidates", len(cands))
			return cands, nil
		}
	}

	if strings.TrimSpace(q.Keywords) == "" {
		return nil, nil
	}
	cands, err := c.search(ctx, q.Keywords)
	if err != nil {
		if isHardError(ctx, err) {
			return nil, err
		}
		c.log.Warnf("Keyword search failed: %v", err)
		return nil, nil
	}
	return cands, nil
}

func (c *MarketplaceClient) search(ctx context.Context, keywords string) ([]models.Candidate, error) {
	payload, err := json.Marshal(searchItemsRequest{
		Keywords:    keywords,
		Marketplace: c.market.Domain,
		PartnerTag:  c.cfg.PartnerTag,
		PartnerType: "Associates",
		Resources:   marketplaceResources,
		ItemCount:   c.cfg.ItemCount,
		SearchIndex: "All",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal search request: %v", utils.ErrRequestCreation, err)
	}

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+searchItemsPath, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
		}
		req.Header.Set("Content-Encoding", "amz-1.0")
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("X-Amz-Target", searchItemsTarget)
		// Fail closed: an unsigned request is never sent
		if err := c.signer.Sign(ctx, req, payload); err != nil {
			return nil, err
		}
		return req, nil
	}

	resp, err := c.caller.Do(ctx, models.SourceMarketplace.String(), build, marketplaceRateLimited, fetch.RetryPolicy{})
	if err != nil {
		return nil, err
	}

	var parsed searchItemsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		c.log.Warnf("%v: JSON decode of search response: %v", utils.ErrParsing, err)
		return nil, nil
	}
	for _, e := range parsed.Errors {
		c.log.WithField("code", e.Code).Debugf("Marketplace reported: %s", e.Message)
	}

	var cands []models.Candidate
	for _, item := range parsed.SearchResult.Items {
		img := item.Images.Primary.Large
		if img == nil || img.URL == "" {
			img = item.Images.Primary.Medium
		}
		if img == nil || img.URL == "" {
			continue
		}
		cands = append(cands, models.Candidate{
			URL:    img.URL,
			Title:  item.ItemInfo.Title.DisplayValue,
			Width:  img.Width,
			Height: img.Height,
			Source: models.SourceMarketplace,
		})
	}
	return cands, nil
}

func marketplaceRateLimited(status int, _ http.Header, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status == http.StatusServiceUnavailable && bytes.Contains(body, []byte("TooManyRequests"))
}

// identifierLookups orders exact identifiers by specificity
func identifierLookups(ids models.Identifiers) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range []string{ids.EAN, ids.UPC, ids.SKU, ids.MPN} {
		v = strings.TrimSpace(v)
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// isHardError reports errors that must not be swallowed as an empty result
func isHardError(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, utils.ErrSigning) ||
		errors.Is(err, utils.ErrProviderConfig) ||
		errors.Is(err, utils.ErrBudgetExhausted)
}
