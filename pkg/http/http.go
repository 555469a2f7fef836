package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/NamanBalaji/fetcharr/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 60 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "fetcharr/1.0"

	defaultDownloadName = "download"
)

type Client struct {
	*http.Client
}

// NewClient creates a new HTTP client with custom transport settings.
// There is no overall request timeout: bodies are streamed for as long as the server keeps sending.
func NewClient() *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	return &Client{
		&http.Client{
			Transport: transport,
		},
	}
}

// Get performs a GET request for urlStr. When offset is positive a Range header asking for
// everything from offset onwards is added. The response is returned whatever its status;
// callers decide what a non-2xx status means for them.
func (c *Client) Get(ctx context.Context, urlStr string, offset int64) (*http.Response, error) {
	req, err := generateRequest(ctx, urlStr, http.MethodGet, map[string]string{
		"Accept":          "*/*",
		"Accept-Encoding": "identity",
	})
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		logger.Debugf("Set Range header: bytes=%d- for %s", offset, urlStr)
	}

	resp, err := c.Do(req)
	if err != nil {
		logger.Debugf("GET request failed for %s: %v", urlStr, err)

		classified := ClassifyError(err)
		if classified == err {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", classified, err)
	}

	logger.Debugf("GET response for %s: status=%d", urlStr, resp.StatusCode)

	return resp, nil
}

// generateRequest creates a new HTTP request with the specified method and URL.
func generateRequest(ctx context.Context, urlStr, method string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, http.NoBody)
	if err != nil {
		logger.Errorf("Failed to create %s request for %s: %v", method, urlStr, err)
		return nil, fmt.Errorf("%w: %w", ErrRequestCreation, err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// IsSuccess reports whether statusCode is in the 2xx range.
func IsSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

// SupportsRanges reports whether the server advertised byte range support.
func SupportsRanges(resp *http.Response) bool {
	return resp.Header.Get("Accept-Ranges") == "bytes"
}

// ParseContentRange extracts the complete length from a Content-Range header such as
// "bytes 0-99/1234" or "bytes */1234". An unknown length ("*") is reported as not ok.
func ParseContentRange(header string) (int64, bool) {
	unit, rng, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || unit != "bytes" {
		return 0, false
	}

	_, size, found := strings.Cut(rng, "/")
	if !found || size == "*" {
		return 0, false
	}

	total, err := strconv.ParseInt(size, 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}

	return total, true
}

// TotalSize returns the full size of the remote object described by resp. offset is the
// range start that was requested, used when a partial response carries no Content-Range.
func TotalSize(resp *http.Response, offset int64) (int64, bool) {
	if header := resp.Header.Get("Content-Range"); header != "" {
		return ParseContentRange(header)
	}

	if resp.ContentLength < 0 {
		return 0, false
	}

	if resp.StatusCode == http.StatusPartialContent {
		return offset + resp.ContentLength, true
	}

	return resp.ContentLength, true
}

// FilenameFromURL derives a file name from the filename query parameter or the last path element.
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultDownloadName
	}

	if qname := u.Query().Get("filename"); qname != "" {
		return qname
	}

	base := path.Base(u.Path)
	if base != "" && base != "/" && base != "." {
		return base
	}

	return defaultDownloadName
}
