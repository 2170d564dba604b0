// Package parseclient implements the parse service HTTP client (spec.md
// §6): multipart POST /file_parse and a GET /docs health probe. Grounded
// on internal/clients/doc2x/client.go's multipart-upload idiom,
// generalized to match the field names in spec.md §6 exactly instead of
// Doc2X's presigned-upload/polling flow.
package parseclient

import (
	"context"
	"fmt"

	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/httpclient"
	"github.com/chunkforge/pipeline/internal/pipeline"
)

const ServiceName = "parseservice"

// Options configures one /file_parse call. Field names mirror spec.md
// §6's multipart body exactly.
type Options struct {
	Backend          string
	ParseMethod      string
	Lang             string
	FormulaEnable    bool
	TableEnable      bool
	ReturnContentList bool
	ReturnInfo       bool
	ReturnImages     bool
	IsJSONMdDump     bool
	OutputDir        string
}

// Result is the parse service's response, decoded from spec.md §6's
// {md_content, info, content_list, images, backend} shape.
type Result struct {
	MDContent   string               `json:"md_content"`
	Info        pipeline.LayoutRecord `json:"info"`
	ContentList []any                `json:"content_list"`
	Images      map[string]string    `json:"images"`
	Backend     string               `json:"backend"`
}

// Client is the parse-service HTTP client.
type Client struct {
	http *httpclient.Client
}

// New builds a Client from a ServiceConfig.
func New(cfg config.ServiceConfig) *Client {
	return &Client{http: httpclient.New(ServiceName, cfg, httpclient.ProcessingTimeout)}
}

// ParseFile uploads fileBytes for parsing and returns the decoded result.
// A response with an empty md_content is a ParseFailure per spec.md §7.
func (c *Client) ParseFile(ctx context.Context, fileName string, fileBytes []byte, opts Options) (Result, error) {
	form := map[string]string{
		"backend":             opts.Backend,
		"parse_method":        opts.ParseMethod,
		"lang":                opts.Lang,
		"formula_enable":      boolStr(opts.FormulaEnable),
		"table_enable":        boolStr(opts.TableEnable),
		"return_content_list": boolStr(opts.ReturnContentList),
		"return_info":         boolStr(opts.ReturnInfo),
		"return_images":       boolStr(opts.ReturnImages),
		"is_json_md_dump":     boolStr(opts.IsJSONMdDump),
		"output_dir":          opts.OutputDir,
	}

	var result Result
	if err := c.http.PostMultipart("/file_parse", "file", fileName, fileBytes, form, &result); err != nil {
		return Result{}, err
	}
	if result.MDContent == "" {
		return Result{}, &pipeline.ParseFailure{DocID: fileName, Err: fmt.Errorf("parse service returned empty md_content")}
	}
	return result, nil
}

// HealthCheck probes GET /docs, returning nil on any 2xx status.
func (c *Client) HealthCheck() error {
	var discard map[string]any
	return c.http.Get("/docs", nil, &discard)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
