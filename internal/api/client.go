package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-jvman/internal/models"

	log "github.com/sirupsen/logrus"
)

// HttpError reports a non-success status from the release API or an asset host.
type HttpError struct {
	StatusCode int
	URL        string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s from %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// CheckStatus returns an *HttpError for any non-2xx response.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HttpError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String()}
	}
	return nil
}

// Client queries the release-metadata API.
type Client struct {
	BaseURL    string
	HttpClient *http.Client
}

// NewClient creates a new API client. A trailing slash on baseURL is ignored.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HttpClient: httpClient,
	}
}

// SearchURL builds {base}/info/{releases|nightly}/{versionSpec}?{params}.
func (c *Client) SearchURL(versionSpec string, nightly bool, params url.Values) string {
	channel := models.ChannelReleases
	if nightly {
		channel = models.ChannelNightly
	}
	reqURL := fmt.Sprintf("%s/info/%s/%s", c.BaseURL, channel, url.PathEscape(versionSpec))
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Search issues one GET for the given version and channel and returns an
// iterator over the releases of the response. The caller must Close it.
// Requests are never retried; a non-2xx status yields an *HttpError.
func (c *Client) Search(ctx context.Context, versionSpec string, nightly bool, params url.Values) (*ReleaseIterator, error) {
	reqURL := c.SearchURL(versionSpec, nightly, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("Accept", "application/json")

	log.Debugf("Requesting URL: %s", reqURL)
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request to %s failed: %w", reqURL, err)
	}
	if err := CheckStatus(resp); err != nil {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
		return nil, err
	}

	return newReleaseIterator(resp.Body), nil
}

// ReleaseIterator decodes the JSON array of a search response one element at
// a time. It is finite and cannot be restarted.
type ReleaseIterator struct {
	body    io.ReadCloser
	dec     *json.Decoder
	started bool
	current models.Release
	err     error
	done    bool
}

func newReleaseIterator(body io.ReadCloser) *ReleaseIterator {
	return &ReleaseIterator{body: body, dec: json.NewDecoder(body)}
}

// Next advances to the next release. It returns false when the array is
// exhausted or an error occurred; check Err afterwards.
func (it *ReleaseIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		tok, err := it.dec.Token()
		if err != nil {
			return it.fail(fmt.Errorf("error reading response: %w", err))
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return it.fail(fmt.Errorf("expected JSON array in response, got %v", tok))
		}
	}
	if !it.dec.More() {
		it.done = true
		return false
	}

	var rec models.ReleaseRecord
	if err := it.dec.Decode(&rec); err != nil {
		return it.fail(fmt.Errorf("error unmarshalling release: %w", err))
	}
	release, err := rec.ToRelease()
	if err != nil {
		return it.fail(err)
	}
	it.current = release
	return true
}

// Release returns the release produced by the last successful Next.
func (it *ReleaseIterator) Release() models.Release {
	return it.current
}

// Err returns the first error encountered by Next.
func (it *ReleaseIterator) Err() error {
	return it.err
}

// Close releases the underlying response body.
func (it *ReleaseIterator) Close() error {
	it.done = true
	return it.body.Close()
}

func (it *ReleaseIterator) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}
