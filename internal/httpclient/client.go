// Package httpclient provides the shared resty wrapper used by every
// external-service client (parse service, chunk store, embedding
// service). Adapted from internal/clients/base/client.go, generalized
// so the retry/timeout policy and ClientError taxonomy are defined once.
package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chunkforge/pipeline/internal/config"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	ProcessingTimeout   = 5 * time.Minute // long-running parse-service calls
)

// ClientError carries enough context to classify a failed call as
// transient or permanent without parsing strings.
type ClientError struct {
	Op         string
	Service    string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("client: %s %s failed with status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("client: %s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func NewClientError(service, op string, err error) *ClientError {
	return &ClientError{Op: op, Service: service, Err: err}
}

func NewHTTPError(service, op string, statusCode int, body string) *ClientError {
	return &ClientError{Op: op, Service: service, StatusCode: statusCode, Err: fmt.Errorf("HTTP %d: %s", statusCode, body)}
}

// IsRetryableError reports whether an error should trigger an upstream
// retry: network failures (no status code) or 5xx responses.
func IsRetryableError(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.StatusCode >= 500 || ce.StatusCode == 0
}

// Client wraps a resty.Client with the service's name for error context.
type Client struct {
	R       *resty.Client
	service string
}

// New builds a Client configured from a ServiceConfig, with the pack-wide
// retry policy (3 retries, 1s-5s backoff, retry on 5xx/network errors).
func New(service string, cfg config.ServiceConfig, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	if cfg.APIKey != "" {
		c.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	c.SetHeader("Content-Type", "application/json")

	c.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &Client{R: c, service: service}
}

// Post issues a JSON POST and decodes the response body into result.
func (c *Client) Post(endpoint string, body, result any) error {
	resp, err := c.R.R().SetBody(body).SetResult(result).Post(endpoint)
	if err != nil {
		return NewClientError(c.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() >= 300 {
		return NewHTTPError(c.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// Get issues a GET with query params, decoding into result.
func (c *Client) Get(endpoint string, params map[string]string, result any) error {
	req := c.R.R().SetResult(result)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return NewClientError(c.service, "GET "+endpoint, err)
	}
	if resp.StatusCode() >= 300 {
		return NewHTTPError(c.service, "GET "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// PostMultipart issues a multipart/form-data POST, used by the parse
// service's /file_parse endpoint.
func (c *Client) PostMultipart(endpoint string, fileField, fileName string, fileBytes []byte, formFields map[string]string, result any) error {
	req := c.R.R().SetFileReader(fileField, fileName, bytesReader(fileBytes)).SetResult(result)
	for k, v := range formFields {
		req.SetFormData(map[string]string{k: v})
	}
	resp, err := req.Post(endpoint)
	if err != nil {
		return NewClientError(c.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() >= 300 {
		return NewHTTPError(c.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
