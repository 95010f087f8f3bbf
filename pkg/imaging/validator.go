// Package imaging downloads candidate images, enforces the configured
// constraints and scores what passes.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/metrics"
	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const DefaultTimeout = 30 * time.Second

// Rejection is a normal negative validation outcome
type Rejection struct {
	Reason models.RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func (r *Rejection) Unwrap() error {
	return utils.ErrRejectedCandidate
}

func reject(reason models.RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Constraints are the acceptance rules for a candidate
type Constraints struct {
	MinWidth  int
	MinHeight int
	MaxBytes  int64           // 0 disables the size check
	MaxPixels int64           // 0 disables the decoded size check
	Formats   map[string]bool // nil accepts every decodable format
}

// ParseFormats maps the configured format option to decoder names
func ParseFormats(option string) map[string]bool {
	switch strings.ToLower(option) {
	case "jpg", "jpeg":
		return map[string]bool{"jpeg": true}
	case "png":
		return map[string]bool{"png": true}
	case "all":
		return nil
	}
	return map[string]bool{"jpeg": true, "png": true}
}

// ConstraintsFrom converts the quality section of the configuration
func ConstraintsFrom(q config.QualityConfig) Constraints {
	return Constraints{
		MinWidth:  q.MinWidth,
		MinHeight: q.MinHeight,
		MaxBytes:  q.MaxBytes(),
		MaxPixels: q.MaxPixels(),
		Formats:   ParseFormats(q.Formats),
	}
}

// Validator fetches and validates candidate image URLs
type Validator struct {
	client      *http.Client
	constraints Constraints
	scorer      Scorer
	userAgent   string
	timeout     time.Duration
	log         *logrus.Entry
}

// NewValidator creates a Validator; a nil scorer means TieredScorer
func NewValidator(client *http.Client, constraints Constraints, scorer Scorer, userAgent string, timeout time.Duration, log *logrus.Entry) *Validator {
	if scorer == nil {
		scorer = TieredScorer{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{
		client:      client,
		constraints: constraints,
		scorer:      scorer,
		userAgent:   userAgent,
		timeout:     timeout,
		log:         log,
	}
}

// FetchAndValidate downloads url and applies every constraint.
// Rejections are returned as *Rejection; context errors are returned as-is.
func (v *Validator) FetchAndValidate(ctx context.Context, url string, source models.ImageSource) (*models.ValidatedImage, error) {
	imgLog := v.log.WithFields(logrus.Fields{"url": url, "source": source.String()})

	img, err := v.fetchAndValidate(ctx, url, source)
	if err != nil {
		if r, ok := err.(*Rejection); ok {
			metrics.ImageValidations.WithLabelValues(r.Reason.String()).Inc()
			imgLog.WithField("reason", r.Reason).Debugf("Candidate rejected: %s", r.Detail)
		}
		return nil, err
	}
	metrics.ImageValidations.WithLabelValues("accepted").Inc()
	imgLog.WithFields(logrus.Fields{
		"dimensions": img.Dimensions(), "format": img.Format, "score": img.Score,
	}).Debug("Candidate accepted")
	return img, nil
}

func (v *Validator) fetchAndValidate(ctx context.Context, url string, source models.ImageSource) (*models.ValidatedImage, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, reject(models.RejectTransport, "building request: %v", err)
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, reject(models.RejectTransport, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, reject(models.RejectTransport, "status %d", resp.StatusCode)
	}

	maxBytes := v.constraints.MaxBytes
	// Declared size is checked before any body byte is read
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, reject(models.RejectOversize, "declared %d bytes exceeds limit %d", resp.ContentLength, maxBytes)
	}

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, reject(models.RejectTransport, "reading body: %v", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, reject(models.RejectOversize, "body exceeds limit %d bytes", maxBytes)
	}

	mime := mimetype.Detect(data)
	// Header only: dimensions and format are checked before any raster is allocated
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, reject(models.RejectDecodeFailure, "%v (detected %s)", err, mime.String())
	}
	width, height := cfg.Width, cfg.Height
	if limit := v.constraints.MaxPixels; limit > 0 && int64(width)*int64(height) > limit {
		return nil, reject(models.RejectOversize, "%dx%d exceeds %d pixels", width, height, limit)
	}
	if width < v.constraints.MinWidth || height < v.constraints.MinHeight {
		return nil, reject(models.RejectBelowMinimum, "%dx%d is below %dx%d",
			width, height, v.constraints.MinWidth, v.constraints.MinHeight)
	}
	if v.constraints.Formats != nil && !v.constraints.Formats[format] {
		return nil, reject(models.RejectDisallowedFormat, "format %s not allowed", format)
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, reject(models.RejectDecodeFailure, "%v (detected %s)", err, mime.String())
	}

	mimeType := mime.String()
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/" + format
	}
	if i := strings.Index(mimeType, ";"); i > 0 {
		mimeType = mimeType[:i]
	}

	return &models.ValidatedImage{
		Data:     data,
		Width:    width,
		Height:   height,
		Format:   format,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Score:    v.scorer.Score(decoded, format),
		Source:   source,
		URL:      url,
	}, nil
}
