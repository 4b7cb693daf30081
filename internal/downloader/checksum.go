package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go-jvman/internal/api"
	"go-jvman/internal/helpers"
	"go-jvman/internal/models"

	log "github.com/sirupsen/logrus"
)

// maxChecksumBytes bounds the checksum document; real ones are one line.
const maxChecksumBytes = 64 * 1024

// FetchChecksum downloads a sha256sum-style document ("<hex>  <name>") and
// returns the digest.
func FetchChecksum(ctx context.Context, client *http.Client, checksumURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating checksum request for %s: %w", ErrHttpRequest, checksumURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: performing checksum request for %s: %w", ErrHttpRequest, checksumURL, err)
	}
	defer resp.Body.Close()

	if err := api.CheckStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksumBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading checksum from %s: %w", ErrHttpRequest, checksumURL, err)
	}
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty checksum document at %s", ErrParse, checksumURL)
	}
	return strings.ToLower(fields[0]), nil
}

// VerifyChecksum fetches the checksum published at checksumURL and compares it
// with the SHA-256 of the file at path.
func VerifyChecksum(ctx context.Context, client *http.Client, checksumURL, path string) error {
	expected, err := FetchChecksum(ctx, client, checksumURL)
	if err != nil {
		return err
	}
	log.Debugf("Verifying %s against SHA256 %s", path, expected)
	if !helpers.CheckHash(path, models.Hashes{SHA256: expected}) {
		return fmt.Errorf("%w: %s", ErrHashMismatch, path)
	}
	log.Infof("Hash verified for %s", path)
	return nil
}
