// Package fetch downloads the remote source files.
//
// Client wraps a resty client that sends the configured User-Agent and turns
// connection failures and non-2xx answers into *common.NetworkError. It never
// retries. Downloader layers the on-disk cache on top: payloads are written
// under the data folder and recorded in a SQLite manifest so later runs can
// skip the request or revalidate with a conditional GET. Mirror copies a whole
// directory index.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

const defaultTimeout = 60 * time.Second

// Options configures a Client.
type Options struct {
	// Progress receives a byte progress bar per download; nil disables it.
	Progress  io.Writer
	UserAgent string
	Timeout   time.Duration
}

// Client performs single HTTP GETs.
type Client struct {
	http     *resty.Client
	progress io.Writer
}

// Conditional carries validators from a previous download.
type Conditional struct {
	ETag         string
	LastModified string
}

// Response is a completed GET.
type Response struct {
	ETag         string
	LastModified string
	Body         []byte
	StatusCode   int
	// NotModified is set when the server answered 304 to a conditional request.
	NotModified bool
}

// NewClient creates a client from opts.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	if opts.UserAgent != "" {
		httpClient.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{
		http:     httpClient,
		progress: opts.Progress,
	}
}

// Fetch returns the body at url or a *common.NetworkError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url, Conditional{})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Get performs a GET, sending If-None-Match / If-Modified-Since when cond has
// validators. A 304 answer is returned with NotModified set and no body.
func (c *Client) Get(ctx context.Context, url string, cond Conditional) (*Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if cond.ETag != "" {
		req.SetHeader("If-None-Match", cond.ETag)
	}
	if cond.LastModified != "" {
		req.SetHeader("If-Modified-Since", cond.LastModified)
	}

	res, err := req.Get(url)
	if err != nil {
		return nil, &common.NetworkError{URL: url, Err: err}
	}
	body := res.RawBody()
	defer func() { _ = body.Close() }()

	out := &Response{
		StatusCode:   res.StatusCode(),
		ETag:         res.Header().Get("ETag"),
		LastModified: res.Header().Get("Last-Modified"),
	}

	if res.StatusCode() == http.StatusNotModified {
		out.NotModified = true
		return out, nil
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
		return nil, &common.NetworkError{URL: url, StatusCode: res.StatusCode()}
	}

	var contentLength int64 = -1
	if res.RawResponse != nil {
		contentLength = res.RawResponse.ContentLength
	}

	data, err := c.readBody(body, contentLength, path.Base(res.Request.URL))
	if err != nil {
		return nil, &common.NetworkError{URL: url, StatusCode: res.StatusCode(), Err: fmt.Errorf("read body: %w", err)}
	}
	out.Body = data
	return out, nil
}

// maxPreallocate bounds how much of a declared Content-Length is reserved up front.
const maxPreallocate = 16 << 20

func (c *Client) readBody(body io.Reader, size int64, name string) ([]byte, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(min(size, maxPreallocate)))
	}

	if c.progress == nil {
		_, err := io.Copy(&buf, body)
		return buf.Bytes(), err
	}

	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(c.progress),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(c.progress)
		}),
	)
	_, err := io.Copy(io.MultiWriter(&buf, bar), body)
	_ = bar.Finish()
	return buf.Bytes(), err
}
