package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and records every request and
// response header to a dedicated log file. JSON bodies are logged too; binary
// downloads are not, so the body stream stays untouched for the downloader.
type LoggingTransport struct {
	Transport http.RoundTripper
	logger    *log.Logger
	logFile   *os.File
	mu        sync.Mutex
}

// NewLoggingTransport opens logFilePath for appending and wraps transport.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	logger := log.New()
	logger.SetOutput(f)
	logger.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		DisableQuote:     true,
		QuoteEmptyFields: true,
	})
	logger.SetLevel(log.DebugLevel)

	return &LoggingTransport{Transport: transport, logger: logger, logFile: f}, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if reqDump, err := httputil.DumpRequestOut(req, false); err != nil {
		t.logger.WithError(err).Error("Failed to dump request")
	} else {
		t.write(log.Fields{"method": req.Method, "url": req.URL.String()}, "--- Request ---\n%s", reqDump)
	}

	resp, err := t.Transport.RoundTrip(req)
	fields := log.Fields{"url": req.URL.String(), "duration": time.Since(start)}
	if err != nil {
		t.mu.Lock()
		t.logger.WithFields(fields).WithError(err).Error("--- Response Error ---")
		t.mu.Unlock()
		return nil, err
	}
	fields["status"] = resp.StatusCode

	respDump, dumpErr := httputil.DumpResponse(resp, false)
	if dumpErr != nil {
		respDump = []byte(resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		t.write(fields, "--- Response Headers ---\n%s(Body not logged, type %q)", respDump, contentType)
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		// Hand the partial body plus the error on to the caller.
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{readErr}))
		t.write(fields, "--- Response Headers ---\n%s(Body read failed: %v)", respDump, readErr)
		return resp, nil
	}
	t.write(fields, "--- Response Headers ---\n%s--- Response Body (%d bytes) ---\n%s", respDump, len(body), body)
	return resp, nil
}

func (t *LoggingTransport) write(fields log.Fields, format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.WithFields(fields).Debugf(format, args...)
}

// Close closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logFile.Close()
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
