// Package signing builds Signature Version 4 authenticated requests for the
// marketplace product API. Each canonicalization stage is exported so it can
// be checked against published vectors in isolation.
package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/trionica/catalog-enricher/pkg/utils"
)

const (
	Algorithm       = "AWS4-HMAC-SHA256"
	DefaultService  = "ProductAdvertisingAPI"
	AmzDateFormat   = "20060102T150405Z"
	DateStampFormat = "20060102"

	HeaderAmzDate       = "X-Amz-Date"
	HeaderSecurityToken = "X-Amz-Security-Token"
	HeaderAuthorization = "Authorization"
	terminator          = "aws4_request"
)

// Scope is the credential scope: date stamp, region and service
type Scope struct {
	Date    string
	Region  string
	Service string
}

func (s Scope) String() string {
	return s.Date + "/" + s.Region + "/" + s.Service + "/" + terminator
}

// HashHex returns the lowercase hex SHA-256 of data
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// CanonicalHeaders lower-cases, trims and sorts the headers.
// Returns the header block (one "name:value\n" line each) and the signed header list.
func CanonicalHeaders(headers map[string]string) (block string, signed string, err error) {
	normalized := make(map[string]string, len(headers))
	for name, value := range headers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return "", "", fmt.Errorf("%w: empty header name", utils.ErrSigning)
		}
		normalized[key] = strings.Join(strings.Fields(value), " ")
	}
	if _, ok := normalized["host"]; !ok {
		return "", "", fmt.Errorf("%w: host header is required", utils.ErrSigning)
	}

	names := make([]string, 0, len(normalized))
	for k := range normalized {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(normalized[k])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";"), nil
}

// CanonicalQuery sorts and percent-encodes query parameters
func CanonicalQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// CanonicalRequest builds the stage-one canonical request.
// Returns the canonical request string and the signed header list.
func CanonicalRequest(method, uri, query string, headers map[string]string, payload []byte) (string, string, error) {
	block, signed, err := CanonicalHeaders(headers)
	if err != nil {
		return "", "", err
	}
	if uri == "" {
		uri = "/"
	}
	canonical := strings.Join([]string{
		strings.ToUpper(method),
		uri,
		query,
		block,
		signed,
		HashHex(payload),
	}, "\n")
	return canonical, signed, nil
}

// StringToSign builds the stage-two string to sign
func StringToSign(amzDate string, scope Scope, canonicalRequest string) string {
	return Algorithm + "\n" + amzDate + "\n" + scope.String() + "\n" + HashHex([]byte(canonicalRequest))
}

// DeriveSigningKey runs the four-stage keyed-hash chain
func DeriveSigningKey(secret string, scope Scope) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), scope.Date)
	kRegion := hmacSHA256(kDate, scope.Region)
	kService := hmacSHA256(kRegion, scope.Service)
	return hmacSHA256(kService, terminator)
}

// Signature is the hex HMAC of the string to sign under the derived key
func Signature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
}

// AuthorizationHeader formats the final Authorization header value
func AuthorizationHeader(accessKey string, scope Scope, signedHeaders, signature string) string {
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, accessKey, scope.String(), signedHeaders, signature)
}

// Signer signs outgoing requests in place. It never leaves a request
// half-signed: on any error the Authorization header is absent.
type Signer struct {
	creds   aws.CredentialsProvider
	region  string
	service string
	now     func() time.Time
}

// NewSigner creates a Signer. An empty service defaults to DefaultService.
func NewSigner(creds aws.CredentialsProvider, region, service string) *Signer {
	if service == "" {
		service = DefaultService
	}
	return &Signer{
		creds:   creds,
		region:  region,
		service: service,
		now:     time.Now,
	}
}

// WithClock overrides the signing clock
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign adds X-Amz-Date (and the session token when present) to req and
// signs every header on it plus host.
func (s *Signer) Sign(ctx context.Context, req *http.Request, payload []byte) error {
	req.Header.Del(HeaderAuthorization)

	if s.creds == nil {
		return fmt.Errorf("%w: no credentials provider", utils.ErrSigning)
	}
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("%w: retrieving credentials: %v", utils.ErrSigning, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return fmt.Errorf("%w: access key or secret key is empty", utils.ErrSigning)
	}
	if s.region == "" {
		return fmt.Errorf("%w: region is empty", utils.ErrSigning)
	}

	t := s.now().UTC()
	amzDate := t.Format(AmzDateFormat)
	scope := Scope{Date: t.Format(DateStampFormat), Region: s.region, Service: s.service}

	req.Header.Set(HeaderAmzDate, amzDate)
	if creds.SessionToken != "" {
		req.Header.Set(HeaderSecurityToken, creds.SessionToken)
	}

	headers := make(map[string]string, len(req.Header)+1)
	for name, values := range req.Header {
		headers[name] = strings.Join(values, ",")
	}
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if host != "" {
		headers["host"] = host
	}

	canonical, signed, err := CanonicalRequest(req.Method, req.URL.EscapedPath(), CanonicalQuery(req.URL.Query()), headers, payload)
	if err != nil {
		req.Header.Del(HeaderAmzDate)
		return err
	}
	sts := StringToSign(amzDate, scope, canonical)
	sig := Signature(DeriveSigningKey(creds.SecretAccessKey, scope), sts)

	req.Header.Set(HeaderAuthorization, AuthorizationHeader(creds.AccessKeyID, scope, signed, sig))
	return nil
}
