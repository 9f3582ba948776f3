package store

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spadina.network/internal/asset"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Region    = "auto"
	sigV4Service   = "s3"
)

// S3 stores blobs in an S3-compatible bucket, one object per asset id
// under an optional prefix. Works against R2 and GCS interop
// endpoints as well as AWS itself.
type S3 struct {
	endpoint        string
	bucket          string
	prefix          string
	accessKeyID     string
	secretAccessKey string
	httpClient      *http.Client
}

func NewS3(endpoint, bucket, prefix, accessKeyID, secretAccessKey string) (*S3, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	accessKeyID = strings.TrimSpace(accessKeyID)
	secretAccessKey = strings.TrimSpace(secretAccessKey)

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("endpoint/bucket/access key/secret key are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}

	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return &S3{
		endpoint:        strings.TrimRight(u.String(), "/"),
		bucket:          bucket,
		prefix:          prefix,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

func (s *S3) objectKey(id asset.ID) string {
	if s.prefix == "" {
		return string(id)
	}
	return s.prefix + "/" + string(id)
}

func (s *S3) Put(ctx context.Context, id asset.ID, data []byte) error {
	if err := checkPut(id, data); err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodPut, s.objectKey(id), "", data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return s3Error(resp, string(id))
}

func (s *S3) Get(ctx context.Context, id asset.ID) ([]byte, error) {
	if !id.Valid() {
		return nil, asset.ErrMissing
	}
	resp, err := s.do(ctx, http.MethodGet, s.objectKey(id), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", asset.ErrMissing, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, s3Error(resp, string(id))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", id, err)
	}
	if err := id.Verify(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *S3) Exists(ctx context.Context, id asset.ID) (bool, error) {
	if !id.Valid() {
		return false, nil
	}
	resp, err := s.do(ctx, http.MethodHead, s.objectKey(id), "", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("s3 head failed status=%d key=%s", resp.StatusCode, id)
	}
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	IsTruncated bool     `xml:"IsTruncated"`
	NextToken   string   `xml:"NextContinuationToken"`
	Contents    []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

func (s *S3) List(ctx context.Context, fn func(asset.ID) bool) error {
	token := ""
	for {
		// Canonical query strings sort by parameter name.
		query := ""
		if token != "" {
			query = "continuation-token=" + url.QueryEscape(token) + "&"
		}
		query += "list-type=2"
		if s.prefix != "" {
			query += "&prefix=" + url.QueryEscape(s.prefix+"/")
		}
		resp, err := s.do(ctx, http.MethodGet, "", query, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := s3Error(resp, s.prefix)
			resp.Body.Close()
			return err
		}
		var page listResult
		err = xml.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode s3 listing: %w", err)
		}
		for _, obj := range page.Contents {
			name := obj.Key
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			id := asset.ID(name)
			if !id.Valid() {
				continue
			}
			if !fn(id) {
				return nil
			}
		}
		if !page.IsTruncated || page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// do signs and sends one SigV4 request. key may be empty for
// bucket-level calls; query must already be in canonical sorted form.
func (s *S3) do(ctx context.Context, method, key, query string, body []byte) (*http.Response, error) {
	payloadHash := sha256Hex(body)

	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	canonicalURI := "/" + s.bucket
	if key != "" {
		canonicalURI += "/" + escapePath(key)
	}
	requestURL := s.endpoint + canonicalURI
	if query != "" {
		requestURL += "?" + query
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, err
	}
	host := req.URL.Host
	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)
	if method == http.MethodPut {
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = int64(len(body))
	}

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		query,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, sigV4Region, sigV4Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		sigV4Algorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(s.secretAccessKey, dateStamp, sigV4Region, sigV4Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
	auth := fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm,
		s.accessKeyID,
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", auth)

	return s.httpClient.Do(req)
}

func s3Error(resp *http.Response, key string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("s3 %s failed status=%d key=%s body=%s",
		strings.ToLower(resp.Request.Method), resp.StatusCode, key, strings.TrimSpace(string(body)))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}

var _ Store = (*S3)(nil)
