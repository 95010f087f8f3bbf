package providers

import (
	"bytes"
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
	"github.com/trionica/catalog-enricher/pkg/keys"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

// DescriptionQuerySuffix narrows web results toward product copy
const DescriptionQuerySuffix = "product description specifications"

var quotaReasons = [][]byte{
	[]byte("rateLimitExceeded"),
	[]byte("userRateLimitExceeded"),
	[]byte("dailyLimitExceeded"),
	[]byte("quotaExceeded"),
}

type customSearchResponse struct {
	Items []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Snippet     string `json:"snippet"`
		HTMLSnippet string `json:"htmlSnippet"`
		Image       struct {
			Width       int    `json:"width"`
			Height      int    `json:"height"`
			ContextLink string `json:"contextLink"`
		} `json:"image"`
	} `json:"items"`
}

// PrimarySearchClient queries the web search API for images and text.
// The API key comes from the shared Rotator on every attempt.
type PrimarySearchClient struct {
	cfg     config.PrimarySearchConfig
	rotator *keys.Rotator
	caller  *fetch.Caller
	log     *logrus.Entry
}

// NewPrimarySearchClient creates the client. cfg supplies everything except the keys.
func NewPrimarySearchClient(cfg config.PrimarySearchConfig, rotator *keys.Rotator, caller *fetch.Caller, log *logrus.Entry) *PrimarySearchClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.DefaultPrimaryEndpoint
	}
	return &PrimarySearchClient{
		cfg:     cfg,
		rotator: rotator,
		caller:  caller,
		log:     log.WithField("provider", models.SourcePrimary.String()),
	}
}

func (c *PrimarySearchClient) Source() models.ImageSource { return models.SourcePrimary }

// Configured reports a missing engine id or an empty key list as ErrProviderConfig
func (c *PrimarySearchClient) Configured() error {
	if c.cfg.SearchEngineID == "" {
		return fmt.Errorf("%w: primary search engine id is empty", utils.ErrProviderConfig)
	}
	if c.rotator == nil || c.rotator.Len() == 0 {
		return fmt.Errorf("%w: primary search has no API keys", utils.ErrProviderConfig)
	}
	return nil
}

// SearchImages runs the full query and, only when it returns nothing,
// up to MaxFallbacks simplified queries.
func (c *PrimarySearchClient) SearchImages(ctx context.Context, q Query) ([]models.Candidate, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}
	text := queryText(q)
	if text == "" {
		return nil, nil
	}

	cands, err := c.imageQuery(ctx, text, c.cfg.NumResults)
	if err != nil {
		return nil, err
	}
	if len(cands) > 0 {
		return cands, nil
	}

	fallbacks := SimplifiedQueries(q, c.cfg.MaxFallbacks)
	if len(fallbacks) > 0 {
		c.log.WithField("query", text).Info("No results with original search, trying simplified queries")
	}
	for i, fq := range fallbacks {
		c.log.WithFields(logrus.Fields{"attempt": i + 1, "query": fq}).Debug("Trying simplified query")
		cands, err := c.imageQuery(ctx, fq, c.cfg.FallbackResults)
		if err != nil {
			return nil, err
		}
		if len(cands) > 0 {
			return cands, nil
		}
	}
	return nil, nil
}

// SearchText fetches web snippets for description synthesis
func (c *PrimarySearchClient) SearchText(ctx context.Context, q Query) ([]models.Snippet, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}
	text := queryText(q)
	if text == "" {
		return nil, nil
	}

	params := c.baseParams(text+" "+DescriptionQuerySuffix, c.cfg.DescriptionResults)
	parsed, err := c.call(ctx, params)
	if err != nil || parsed == nil {
		return nil, err
	}

	var snippets []models.Snippet
	for _, item := range parsed.Items {
		body := item.Snippet
		if body == "" {
			body = item.HTMLSnippet
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		snippets = append(snippets, models.Snippet{Title: item.Title, Text: body, Link: item.Link})
	}
	return snippets, nil
}

func (c *PrimarySearchClient) imageQuery(ctx context.Context, text string, num int) ([]models.Candidate, error) {
	params := c.baseParams(text, num)
	params.Set("searchType", "image")
	if c.cfg.ImageSize != "" {
		params.Set("imgSize", c.cfg.ImageSize)
	}

	parsed, err := c.call(ctx, params)
	if err != nil || parsed == nil {
		return nil, err
	}

	var cands []models.Candidate
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}
		cands = append(cands, models.Candidate{
			URL:    item.Link,
			Title:  item.Title,
			Width:  item.Image.Width,
			Height: item.Image.Height,
			Source: models.SourcePrimary,
		})
	}
	c.log.WithField("query", text).Debugf("Image search returned %d candidates", len(cands))
	return cands, nil
}

func (c *PrimarySearchClient) baseParams(text string, num int) url.Values {
	params := url.Values{}
	params.Set("cx", c.cfg.SearchEngineID)
	params.Set("q", text)
	if num > 0 {
		params.Set("num", strconv.Itoa(num))
	}
	if c.cfg.SafeSearch != "" {
		params.Set("safe", c.cfg.SafeSearch)
	}
	if c.cfg.Country != "" {
		params.Set("gl", c.cfg.Country)
	}
	if c.cfg.Language != "" {
		params.Set("hl", c.cfg.Language)
	}
	return params
}

// call returns (nil, nil) for soft failures and an error only for hard ones
func (c *PrimarySearchClient) call(ctx context.Context, params url.Values) (*customSearchResponse, error) {
	var usedKey string
	build := func(ctx context.Context) (*http.Request, error) {
		key, ok := c.rotator.Current()
		if !ok {
			return nil, fmt.Errorf("%w: primary search has no API keys", utils.ErrProviderConfig)
		}
		usedKey = key
		p := cloneValues(params)
		p.Set("key", key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+p.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
		}
		return req, nil
	}
	policy := fetch.RetryPolicy{
		Rotate: func(reason string) bool { return c.rotator.Advance(reason, usedKey) },
	}

	resp, err := c.caller.Do(ctx, models.SourcePrimary.String(), build, PrimaryRateLimited, policy)
	if err != nil {
		if isHardError(ctx, err) {
			return nil, err
		}
		c.log.WithField("query", params.Get("q")).Warnf("Search failed, treating as no results: %v", err)
		return nil, nil
	}

	var parsed customSearchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		c.log.Warnf("%v: JSON decode of search response: %v", utils.ErrParsing, err)
		return nil, nil
	}
	return &parsed, nil
}

// PrimaryRateLimited matches 429 and quota-flavored 403 responses
func PrimaryRateLimited(status int, _ http.Header, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status != http.StatusForbidden {
		return false
	}
	for _, r := range quotaReasons {
		if bytes.Contains(body, r) {
			return true
		}
	}
	return false
}

// queryText picks keywords, or the most specific identifier when there are none
func queryText(q Query) string {
	if kw := strings.TrimSpace(q.Keywords); kw != "" {
		return kw
	}
	if ids := identifierLookups(q.Identifiers); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
