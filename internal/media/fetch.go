// ABOUTME: Bounded download of remote documents referenced by URL
// ABOUTME: Enforces a timeout and a size cap and reports the media type of the payload

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
)

// Fetch defaults
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxBytes     = 32 << 20
)

// ErrTooLarge is wrapped by FetchError when a payload exceeds the size cap.
var ErrTooLarge = errors.New("payload exceeds size limit")

var octetStream = contenttype.NewMediaType("application/octet-stream")

// FetchError reports a failed remote download.
type FetchError struct {
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Media is a downloaded or decoded payload.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// Fetcher downloads remote media with bounded time and size.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. Zero limits use the defaults.
func NewFetcher(timeout time.Duration, maxBytes int64, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger.With("component", "media-fetcher"),
	}
}

// ValidateURL reports whether raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}

// Fetch downloads rawURL. Any failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Media, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)}
	}

	m := &Media{
		Data:     data,
		MimeType: mimeType(resp.Header.Get("Content-Type"), data),
		FileName: fileNameFromURL(req.URL),
	}

	f.logger.Debug("media fetched",
		"url", rawURL,
		"bytes", len(data),
		"mime_type", m.MimeType,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return m, nil
}

// mimeType prefers the declared type and sniffs the payload when the server
// sent nothing useful.
func mimeType(header string, data []byte) string {
	mt := contenttype.NewMediaType(header)
	if mt.Type == "" || mt.Subtype == "" || mt.Matches(octetStream) {
		sniffed := contenttype.NewMediaType(http.DetectContentType(data))
		return sniffed.Type + "/" + sniffed.Subtype
	}
	return mt.Type + "/" + mt.Subtype
}

func fileNameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" || !strings.Contains(name, ".") {
		return ""
	}
	return name
}
