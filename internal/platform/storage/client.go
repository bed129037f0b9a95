package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	maxSignedURLExpiry     = 7 * 24 * time.Hour
)

var (
	errNoClient      = errors.New("storage: client is not initialised")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
	errEmptyObject   = errors.New("storage: object content is empty")
)

// Client writes order documents to Cloud Storage and issues V4 signed download URLs.
type Client struct {
	gcs    *gcs.Client
	signer Signer
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigner signs URLs with a key file or IAM signer instead of the ambient credentials.
func WithSigner(signer Signer) ClientOption {
	return func(c *Client) {
		if signer != nil {
			c.signer = signer
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient wraps a Cloud Storage client. gcsClient may be nil when only URL signing is needed.
func NewClient(gcsClient *gcs.Client, opts ...ClientOption) (*Client, error) {
	client := &Client{gcs: gcsClient, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.gcs == nil && client.signer == nil {
		return nil, errNoClient
	}
	return client, nil
}

// Upload stores data at bucket/object with the given content type, replacing any existing object.
func (c *Client) Upload(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if c == nil || c.gcs == nil {
		return errNoClient
	}
	bucket, object, err := normaliseLocation(bucket, object)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errEmptyObject
	}

	w := c.gcs.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalise %s/%s: %w", bucket, object, err)
	}
	return nil
}

// SignedURLResult describes a generated signed URL.
type SignedURLResult struct {
	URL       string
	ExpiresAt time.Time
}

// SignedDownloadURL returns a GET URL for bucket/object. A non-empty fileName is sent back as an
// attachment Content-Disposition.
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, expiresIn time.Duration, fileName string) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoClient
	}
	bucket, object, err := normaliseLocation(bucket, object)
	if err != nil {
		return SignedURLResult{}, err
	}
	if expiresIn <= 0 {
		expiresIn = defaultSignedURLExpiry
	}
	if expiresIn > maxSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}

	expiresAt := c.now().Add(expiresIn)
	opts := &gcs.SignedURLOptions{
		Method:  "GET",
		Scheme:  gcs.SigningSchemeV4,
		Expires: expiresAt,
	}
	if fileName = strings.TrimSpace(fileName); fileName != "" {
		opts.QueryParameters = url.Values{
			"response-content-disposition": {fmt.Sprintf("attachment; filename=%q", fileName)},
		}
	}

	var signed string
	if c.signer != nil {
		opts.GoogleAccessID = c.signer.Email()
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		}
		signed, err = gcs.SignedURL(bucket, object, opts)
	} else {
		signed, err = c.gcs.Bucket(bucket).SignedURL(object, opts)
	}
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURLResult{URL: signed, ExpiresAt: expiresAt}, nil
}

func normaliseLocation(bucket, object string) (string, string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", "", errInvalidBucket
	}
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return "", "", errInvalidObject
	}
	return bucket, object, nil
}
