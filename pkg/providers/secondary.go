package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/fetch"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

type imageSearchResponse struct {
	Value []struct {
		ContentURL string `json:"contentUrl"`
		Name       string `json:"name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"value"`
}

// SecondarySearchClient queries the secondary image search API
type SecondarySearchClient struct {
	cfg    config.SecondarySearchConfig
	caller *fetch.Caller
	log    *logrus.Entry
}

// NewSecondarySearchClient creates the client
func NewSecondarySearchClient(cfg config.SecondarySearchConfig, caller *fetch.Caller, log *logrus.Entry) *SecondarySearchClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.DefaultSecondaryEndpoint
	}
	return &SecondarySearchClient{
		cfg:    cfg,
		caller: caller,
		log:    log.WithField("provider", models.SourceSecondary.String()),
	}
}

func (c *SecondarySearchClient) Source() models.ImageSource { return models.SourceSecondary }

func (c *SecondarySearchClient) Configured() error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return fmt.Errorf("%w: secondary search api key is empty", utils.ErrProviderConfig)
	}
	return nil
}

// SearchImages returns candidates in provider rank order
func (c *SecondarySearchClient) SearchImages(ctx context.Context, q Query) ([]models.Candidate, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}
	text := queryText(q)
	if text == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("count", strconv.Itoa(c.cfg.NumResults))
	if c.cfg.ImageType != "" {
		params.Set("imageType", c.cfg.ImageType)
	}
	if c.cfg.Size != "" {
		params.Set("size", c.cfg.Size)
	}

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
		}
		req.Header.Set(subscriptionKeyHeader, c.cfg.APIKey)
		return req, nil
	}

	resp, err := c.caller.Do(ctx, models.SourceSecondary.String(), build, fetch.IsTooManyRequests, fetch.RetryPolicy{})
	if err != nil {
		if isHardError(ctx, err) {
			return nil, err
		}
		c.log.WithField("query", text).Warnf("Search failed, treating as no results: %v", err)
		return nil, nil
	}

	var parsed imageSearchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		c.log.Warnf("%v: JSON decode of search response: %v", utils.ErrParsing, err)
		return nil, nil
	}

	var cands []models.Candidate
	for _, v := range parsed.Value {
		if v.ContentURL == "" {
			continue
		}
		cands = append(cands, models.Candidate{
			URL:    v.ContentURL,
			Title:  v.Name,
			Width:  v.Width,
			Height: v.Height,
			Source: models.SourceSecondary,
		})
	}
	return cands, nil
}
