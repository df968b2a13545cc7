package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kvinwang/gpt-prover/pkg/engine"
)

// DefaultMaxBodyBytes caps fetched script size.
const DefaultMaxBodyBytes = 4 << 20

// ErrBodyTooLarge is returned when a response exceeds the body cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Response is a fetched HTTP response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// FetcherConfig bounds outbound requests.
type FetcherConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// Fetcher performs single best-effort requests. It never retries and never
// follows redirects: a 3xx is returned to the caller like any other status.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gpt-prover"
	}
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Get fetches rawURL. Non-2xx statuses are returned as responses, not errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	status, header, body, err := f.send(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode:  status,
		ContentType: header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Do performs a script request. It implements engine.Requester.
func (f *Fetcher) Do(ctx context.Context, req engine.HTTPRequest) (*engine.HTTPResponse, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	status, header, body, err := f.send(ctx, method, req.URL, req.Headers, req.Body)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(header))
	for k, v := range header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return &engine.HTTPResponse{StatusCode: status, Headers: headers, Body: string(body)}, nil
}

func (f *Fetcher) send(ctx context.Context, method, rawURL string, headers map[string]string, body string) (int, http.Header, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, nil, nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s %s: %w", strings.ToLower(method), u.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read %s: %w", u.Redacted(), err)
	}
	if int64(len(data)) > f.cfg.MaxBodyBytes {
		return 0, nil, nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes)
	}
	return resp.StatusCode, resp.Header, data, nil
}
