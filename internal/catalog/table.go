package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go-jvman/internal/api"
	"go-jvman/internal/helpers"
	"go-jvman/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Column indexes of the table.
const (
	ColumnReleaseName = iota
	ColumnJavaVersion
	ColumnReleaseType
	ColumnBinaryType
	ColumnVirtualMachine
	ColumnHeapSize
	ColumnArchitecture
)

// ColumnNames are the table headers, indexed by the Column constants.
var ColumnNames = []string{
	"Release Name",
	"Java Version",
	"Release Type",
	"Binary Type",
	"Virtual Machine",
	"Heap Size",
	"Architecture",
}

var virtualMachines = map[string]string{
	"hotspot": "Oracle HotSpot",
	"openj9":  "Eclipse OpenJ9",
}

// Searcher is the part of the release API the table needs.
type Searcher interface {
	Search(ctx context.Context, versionSpec string, nightly bool, params url.Values) (*api.ReleaseIterator, error)
}

// Query is one request of a population: a version on a channel with a single
// value per filter parameter.
type Query struct {
	Version string
	Nightly bool
	Params  url.Values
}

func (q Query) String() string {
	channel := models.ChannelReleases
	if q.Nightly {
		channel = models.ChannelNightly
	}
	if len(q.Params) == 0 {
		return fmt.Sprintf("%s/%s", channel, q.Version)
	}
	return fmt.Sprintf("%s/%s?%s", channel, q.Version, q.Params.Encode())
}

// Options is the parameter set a population fans out over.
type Options struct {
	Versions []string
	Channels []models.Channel
	// Params maps an API filter name (os, arch, type, openjdk_impl,
	// heap_size) to its candidate values.
	Params map[string][]string
}

// OptionsFromConfig builds the population options for the configured filters.
// The nightly channel is queried in addition to releases when enabled.
func OptionsFromConfig(cfg models.Config) Options {
	opts := Options{
		Versions: cfg.Versions,
		Channels: []models.Channel{models.ChannelReleases},
		Params:   map[string][]string{},
	}
	if cfg.Nightly {
		opts.Channels = append(opts.Channels, models.ChannelNightly)
	}
	filters := map[string][]string{
		"os":           cfg.OperatingSystems,
		"arch":         cfg.Architectures,
		"type":         cfg.BinaryTypes,
		"openjdk_impl": cfg.Implementations,
		"heap_size":    cfg.HeapSizes,
	}
	for name, values := range filters {
		if len(values) > 0 {
			opts.Params[name] = values
		}
	}
	return opts
}

// Queries expands the options into versions x channels x every combination
// of the filter parameters.
func (o Options) Queries() []Query {
	channels := o.Channels
	if len(channels) == 0 {
		channels = []models.Channel{models.ChannelReleases}
	}
	combos := helpers.ProductParams(o.Params)

	queries := make([]Query, 0, len(o.Versions)*len(channels)*len(combos))
	for _, version := range o.Versions {
		for _, channel := range channels {
			for _, combo := range combos {
				params := url.Values{}
				for k, v := range combo {
					params.Set(k, v)
				}
				queries = append(queries, Query{Version: version, Nightly: channel.Nightly(), Params: params})
			}
		}
	}
	return queries
}

// Table holds one row per release asset and fills itself in the background.
// Each row is a Release carrying exactly one asset.
type Table struct {
	searcher Searcher

	mu         sync.Mutex
	rows       []models.Release
	generation uint64
	listener   func(row int, r models.Release)

	// popMu serializes Populate, Stop and Wait.
	popMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTable(searcher Searcher) *Table {
	return &Table{searcher: searcher}
}

// OnAppend registers a callback run on the population goroutine after each
// row is added. It may read the table but must not call Populate, Stop or
// Wait.
func (t *Table) OnAppend(fn func(row int, r models.Release)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = fn
}

// Populate cancels any population in flight, waits for it to exit, clears the
// rows and starts filling the table from opts. It returns immediately.
func (t *Table) Populate(ctx context.Context, opts Options) {
	t.popMu.Lock()
	defer t.popMu.Unlock()

	t.stopLocked()

	t.mu.Lock()
	t.rows = nil
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	queries := opts.Queries()
	log.Debugf("Populating table with %d queries", len(queries))

	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.run(workCtx, gen, queries, done)
}

// Stop cancels the population in flight, if any, and waits for it to exit.
// Rows already appended are kept.
func (t *Table) Stop() {
	t.popMu.Lock()
	defer t.popMu.Unlock()
	t.stopLocked()
}

func (t *Table) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
}

// Wait blocks until the current population finishes.
func (t *Table) Wait() {
	t.popMu.Lock()
	done := t.done
	t.popMu.Unlock()
	if done != nil {
		<-done
	}
}

func (t *Table) run(ctx context.Context, gen uint64, queries []Query, done chan struct{}) {
	defer close(done)

	for _, q := range queries {
		if ctx.Err() != nil {
			log.Debugf("Population cancelled before %s", q)
			return
		}
		if !t.runQuery(ctx, gen, q) {
			return
		}
	}
	log.Debugf("Population finished with %d rows", t.Len())
}

// runQuery appends the rows of one query. It returns false when the
// population must stop.
func (t *Table) runQuery(ctx context.Context, gen uint64, q Query) bool {
	it, err := t.searcher.Search(ctx, q.Version, q.Nightly, q.Params)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		var httpErr *api.HttpError
		if errors.As(err, &httpErr) {
			log.WithField("status", httpErr.StatusCode).Warnf("Skipping %s: %v", q, err)
		} else {
			log.WithError(err).Warnf("Skipping %s", q)
		}
		return true
	}
	defer it.Close()

	for it.Next() {
		for _, row := range it.Release().Flatten() {
			if !t.append(gen, row) {
				return false
			}
		}
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.WithError(err).Warnf("Skipping remainder of %s", q)
	}
	return ctx.Err() == nil
}

// append adds a row if gen is still the current generation.
func (t *Table) append(gen uint64, r models.Release) bool {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return false
	}
	t.rows = append(t.rows, r)
	row := len(t.rows) - 1
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(row, r)
	}
	return true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Rows returns a snapshot of the rows.
func (t *Table) Rows() []models.Release {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Release, len(t.rows))
	copy(out, t.rows)
	return out
}

// Row returns the release at index row.
func (t *Table) Row(row int) (models.Release, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 0 || row >= len(t.rows) {
		return models.Release{}, false
	}
	return t.rows[row], true
}

// Cell returns the display text at row and col.
func (t *Table) Cell(row, col int) (string, bool) {
	r, ok := t.Row(row)
	if !ok || col < 0 || col >= len(ColumnNames) {
		return "", false
	}
	return CellValue(r, col), true
}

// CellValue renders one column of a single-asset release.
func CellValue(r models.Release, col int) string {
	asset, _ := r.Asset()
	switch col {
	case ColumnReleaseName:
		return r.Name
	case ColumnJavaVersion:
		return asset.Version
	case ColumnReleaseType:
		if r.Stable {
			return "Release"
		}
		return "Nightly"
	case ColumnBinaryType:
		return strings.ToUpper(asset.BinaryType)
	case ColumnVirtualMachine:
		if name, ok := virtualMachines[asset.Implementation]; ok {
			return name
		}
		return asset.Implementation
	case ColumnHeapSize:
		return cases.Title(language.Und).String(asset.HeapSize)
	case ColumnArchitecture:
		return asset.Architecture
	}
	return ""
}

// RowValues renders every column of a row.
func RowValues(r models.Release) []string {
	values := make([]string, len(ColumnNames))
	for col := range ColumnNames {
		values[col] = CellValue(r, col)
	}
	return values
}
