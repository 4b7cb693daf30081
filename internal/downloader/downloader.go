package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-jvman/internal/api"
	"go-jvman/internal/helpers"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultChunkSize is the number of body bytes read and written per chunk.
const DefaultChunkSize = 1024

// Custom Downloader Errors
var (
	ErrMissingHeader = errors.New("required response header missing")
	ErrParse         = errors.New("response header could not be parsed")
	ErrFileSystem    = errors.New("filesystem error")
	ErrHttpRequest   = errors.New("HTTP request creation/execution error")
	ErrHashMismatch  = errors.New("downloaded file hash mismatch")
)

// State is a task's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRequestSent
	StateHeadersReceived
	StateDownloading
	StateCompleted
	StateStopped
	StateFailed
)

var stateNames = [...]string{"Idle", "RequestSent", "HeadersReceived", "Downloading", "Completed", "Stopped", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

// EventKind identifies a progress event.
type EventKind int

const (
	EventFilenameFound EventKind = iota
	EventFilesizeFound
	EventDownloadBegun
	EventBytesChanged
	EventChunkWritten
	EventDownloadEnded
)

var eventNames = [...]string{"FilenameFound", "FilesizeFound", "DownloadBegun", "BytesChanged", "ChunkWritten", "DownloadEnded"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "EventKind(" + strconv.Itoa(int(k)) + ")"
}

// Event is one progress notification. Only the field matching Kind is set:
// Filename for FilenameFound, Size for FilesizeFound, Path for DownloadBegun
// and DownloadEnded, Bytes (running total) for BytesChanged and Chunk for
// ChunkWritten.
type Event struct {
	Kind     EventKind
	Filename string
	Size     int64
	Path     string
	Bytes    int64
	Chunk    int
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithChunkSize sets the chunk size; non-positive values keep the default.
func WithChunkSize(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// Downloader starts chunked downloads. It is safe for concurrent use; every
// call to Start creates an independent Task.
type Downloader struct {
	client    *http.Client
	chunkSize int
}

// NewDownloader creates a new Downloader. No timeout is applied to a nil
// client: large JDK archives stream for as long as the server keeps sending.
func NewDownloader(client *http.Client, opts ...Option) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	d := &Downloader{client: client, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ChunkSize returns the configured chunk size.
func (d *Downloader) ChunkSize() int {
	return d.chunkSize
}

// Start streams sourceURL into destinationDir on a new goroutine and returns
// the task handle immediately. Events are buffered without bound, so a slow
// consumer never stalls the transfer; it should still drain Events until the
// channel is closed. Cancelling ctx has the same effect as Task.Stop.
func (d *Downloader) Start(ctx context.Context, sourceURL, destinationDir string) *Task {
	t := &Task{
		ID:             uuid.NewString(),
		SourceURL:      sourceURL,
		DestinationDir: destinationDir,
		StartedAt:      time.Now(),
		chunkSize:      d.chunkSize,
		client:         d.client,
		events:         make(chan Event),
		done:           make(chan struct{}),
	}
	t.queueCond = sync.NewCond(&t.queueMu)
	go t.forward()
	go t.run(ctx)
	return t
}

// Task is one in-flight download. It is owned by the goroutine running it;
// other goroutines only read its accessors or call Stop.
type Task struct {
	ID             string
	SourceURL      string
	DestinationDir string
	StartedAt      time.Time

	chunkSize int
	client    *http.Client

	mu       sync.Mutex
	state    State
	filename string
	total    int64
	path     string
	success  bool
	stopping bool
	err      error

	written atomic.Int64

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []Event
	ended     bool
	closed    bool
	events    chan Event
	done      chan struct{}
}

// Events returns the ordered event stream. It is closed once the worker exits.
func (t *Task) Events() <-chan Event {
	return t.events
}

// Stop requests cancellation. It clears the success flag and emits
// DownloadEnded right away; the worker notices the request at the next chunk
// boundary and exits without emitting anything else. The partial file is left
// on disk. Stop does not wait for the worker; use Wait for that.
// Stopping a finished task does nothing.
func (t *Task) Stop() {
	t.mu.Lock()
	if t.state.Terminal() || t.stopping {
		t.mu.Unlock()
		return
	}
	t.stopping = true
	t.success = false
	path := t.path
	t.mu.Unlock()

	log.WithField("task", t.ID).Debug("Stop requested")
	t.emit(Event{Kind: EventDownloadEnded, Path: path})
}

// Wait blocks until the worker has exited and returns the failure cause, if any.
func (t *Task) Wait() error {
	<-t.done
	return t.Err()
}

// Done is closed when the worker has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Success is true only for a download that completed without a stop request.
func (t *Task) Success() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success
}

func (t *Task) Filename() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filename
}

func (t *Task) TotalBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Task) BytesWritten() int64 {
	return t.written.Load()
}

// Path is the absolute destination file path, known once headers arrived.
func (t *Task) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		t.mu.Lock()
		if !t.stopping {
			t.stopping = true
			t.success = false
			t.mu.Unlock()
			t.emit(Event{Kind: EventDownloadEnded, Path: t.Path()})
			return true
		}
		t.mu.Unlock()
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// emit queues ev unless DownloadEnded was already queued, so the ended event
// is always the last one a consumer sees. It never blocks.
func (t *Task) emit(ev Event) {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	if t.ended || t.closed {
		return
	}
	if ev.Kind == EventDownloadEnded {
		t.ended = true
	}
	t.queue = append(t.queue, ev)
	t.queueCond.Signal()
}

func (t *Task) closeEvents() {
	t.queueMu.Lock()
	t.closed = true
	t.queueCond.Signal()
	t.queueMu.Unlock()
}

// forward moves queued events onto the channel in order and closes it once
// the worker has exited and the queue is empty.
func (t *Task) forward() {
	for {
		t.queueMu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.queueCond.Wait()
		}
		if len(t.queue) == 0 {
			t.queueMu.Unlock()
			close(t.events)
			return
		}
		ev := t.queue[0]
		t.queue = t.queue[1:]
		t.queueMu.Unlock()

		t.events <- ev
	}
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	defer t.closeEvents()

	logger := log.WithFields(log.Fields{"task": t.ID, "url": t.SourceURL})

	if err := t.download(ctx, logger); err != nil {
		if t.stopRequested(ctx) {
			// A read interrupted by cancellation is a stop, not a failure.
			t.setState(StateStopped)
			logger.WithError(err).Info("Download stopped")
			return
		}
		t.mu.Lock()
		t.state = StateFailed
		t.err = err
		t.success = false
		path := t.path
		t.mu.Unlock()
		logger.WithError(err).Error("Download failed")
		t.emit(Event{Kind: EventDownloadEnded, Path: path})
		return
	}

	t.mu.Lock()
	if t.stopping {
		t.state = StateStopped
		t.mu.Unlock()
		logger.Infof("Download stopped after %d bytes", t.BytesWritten())
		return
	}
	t.state = StateCompleted
	t.success = true
	path := t.path
	t.mu.Unlock()

	logger.Infof("Successfully downloaded %s", path)
	t.emit(Event{Kind: EventDownloadEnded, Path: path})
}

// download performs the transfer. A nil return with a stop request pending
// means the loop exited early on purpose.
func (t *Task) download(ctx context.Context, logger *log.Entry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, t.SourceURL, err)
	}
	// An explicit encoding keeps the transport from gunzipping the body and
	// dropping Content-Length. The bytes are stored exactly as sent.
	req.Header.Set("Accept-Encoding", "identity")

	t.setState(StateRequestSent)
	logger.Info("Sending download request")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, t.SourceURL, err)
	}
	defer resp.Body.Close()

	if err := api.CheckStatus(resp); err != nil {
		return err
	}

	size, filename, err := parseHeaders(resp.Header)
	if err != nil {
		return err
	}

	absDir, err := filepath.Abs(t.DestinationDir)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrFileSystem, t.DestinationDir, err)
	}
	path := filepath.Join(absDir, filename)

	t.mu.Lock()
	t.state = StateHeadersReceived
	t.filename = filename
	t.total = size
	t.path = path
	t.mu.Unlock()

	t.emit(Event{Kind: EventFilenameFound, Filename: filename})
	t.emit(Event{Kind: EventFilesizeFound, Size: size})

	if t.stopRequested(ctx) {
		return nil
	}

	if !helpers.CheckAndMakeDir(absDir) {
		return fmt.Errorf("%w: failed to create destination directory %s", ErrFileSystem, absDir)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrFileSystem, path, err)
	}
	defer file.Close()

	t.setState(StateDownloading)
	logger.Infof("Downloading %s (%s) to %s", filename, helpers.BytesToSize(uint64(size)), path)
	t.emit(Event{Kind: EventDownloadBegun, Path: path})

	// The limit keeps bytesWritten within the announced size.
	if err := t.copyChunks(ctx, io.LimitReader(resp.Body, size), file); err != nil {
		return err
	}
	if t.stopRequested(ctx) {
		return nil
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrFileSystem, path, err)
	}
	if written := t.written.Load(); written != size {
		return fmt.Errorf("%w: body ended after %d of %d bytes: %w", ErrHttpRequest, written, size, io.ErrUnexpectedEOF)
	}
	return nil
}

// copyChunks reads the body chunkSize bytes at a time, checking for a stop
// request before every read. Empty reads are skipped without counting.
func (t *Task) copyChunks(ctx context.Context, body io.Reader, file io.Writer) error {
	buf := make([]byte, t.chunkSize)
	index := 0
	for {
		if t.stopRequested(ctx) {
			return nil
		}

		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: writing chunk %d: %w", ErrFileSystem, index, err)
			}
			written := t.written.Add(int64(n))
			t.emit(Event{Kind: EventBytesChanged, Bytes: written})
			t.emit(Event{Kind: EventChunkWritten, Chunk: index})
			index++
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("%w: reading body: %w", ErrHttpRequest, readErr)
		}
	}
}

var filenamePattern = regexp.MustCompile(`filename=(.+)`)

// parseHeaders extracts the size from Content-Length and the file name from
// Content-Disposition.
func parseHeaders(h http.Header) (int64, string, error) {
	lengthValue := h.Get("Content-Length")
	if lengthValue == "" {
		return 0, "", fmt.Errorf("%w: Content-Length", ErrMissingHeader)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(lengthValue), 10, 64)
	if err != nil || size < 0 {
		return 0, "", fmt.Errorf("%w: Content-Length %q", ErrParse, lengthValue)
	}

	disposition := h.Get("Content-Disposition")
	if disposition == "" {
		return 0, "", fmt.Errorf("%w: Content-Disposition", ErrMissingHeader)
	}
	filename, err := ParseFilename(disposition)
	if err != nil {
		return 0, "", err
	}
	return size, filename, nil
}

// ParseFilename returns the base file name carried by a Content-Disposition
// value. Well-formed values are parsed as a media type; anything else falls
// back to the raw filename= pattern.
func ParseFilename(disposition string) (string, error) {
	var name string
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		name = params["filename"]
	} else if m := filenamePattern.FindStringSubmatch(disposition); m != nil {
		name = strings.TrimSpace(m[1])
		if i := strings.Index(name, ";"); i >= 0 {
			name = name[:i]
		}
		name = strings.Trim(name, `"' `)
	} else {
		return "", fmt.Errorf("%w: no filename in Content-Disposition %q", ErrParse, disposition)
	}

	name = filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: unusable filename in Content-Disposition %q", ErrParse, disposition)
	}
	return name, nil
}
