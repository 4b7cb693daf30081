package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go-jvman/internal/api"
	"go-jvman/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeBinaries = `[
  {"release_name": "jdk-11.0.4+11", "release_link": "https://example.com/jdk-11.0.4+11", "release": true,
   "binaries": [
     {"os": "linux", "architecture": "x64", "binary_type": "jdk", "openjdk_impl": "hotspot", "heap_size": "normal", "version": "11"},
     {"os": "linux", "architecture": "aarch64", "binary_type": "jre", "openjdk_impl": "openj9", "heap_size": "large", "version": "11"},
     {"os": "linux", "architecture": "s390x", "binary_type": "jdk", "openjdk_impl": "hotspot", "heap_size": "normal", "version": "11"}
   ]}
]`

func releaseJSON(name string) string {
	return fmt.Sprintf(`[{"release_name": %q, "release": true, "binaries": [{"os": "linux", "architecture": "x64"}]}]`, name)
}

func newTestTable(t *testing.T, handler http.HandlerFunc) *Table {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTable(api.NewClient(server.URL, server.Client()))
}

func rowNames(rows []models.Release) []string {
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return names
}

func TestQueries(t *testing.T) {
	opts := Options{
		Versions: []string{"openjdk11"},
		Params:   map[string][]string{"os": {"a", "b"}, "arch": {"x"}},
	}
	queries := opts.Queries()
	require.Len(t, queries, 2)
	assert.Equal(t, url.Values{"arch": {"x"}, "os": {"a"}}, queries[0].Params)
	assert.Equal(t, url.Values{"arch": {"x"}, "os": {"b"}}, queries[1].Params)
	assert.False(t, queries[0].Nightly)
	assert.Equal(t, "releases/openjdk11?arch=x&os=a", queries[0].String())

	opts.Versions = []string{"openjdk8", "openjdk11"}
	opts.Channels = []models.Channel{models.ChannelReleases, models.ChannelNightly}
	queries = opts.Queries()
	require.Len(t, queries, 8)
	assert.Equal(t, "openjdk8", queries[0].Version)
	assert.True(t, queries[2].Nightly)
	assert.Equal(t, "openjdk11", queries[7].Version)

	assert.Empty(t, Options{Versions: []string{"openjdk11"}, Params: map[string][]string{"os": {}}}.Queries())
	assert.Empty(t, Options{}.Queries())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := models.Config{
		Versions:         []string{"openjdk11"},
		Nightly:          true,
		OperatingSystems: []string{"linux", "mac"},
		HeapSizes:        []string{"normal"},
	}
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, []models.Channel{models.ChannelReleases, models.ChannelNightly}, opts.Channels)
	assert.Equal(t, map[string][]string{"os": {"linux", "mac"}, "heap_size": {"normal"}}, opts.Params)
	assert.Len(t, opts.Queries(), 4)
}

func TestPopulateFlattensReleases(t *testing.T) {
	table := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, threeBinaries)
	})

	var appended []int
	table.OnAppend(func(row int, r models.Release) {
		appended = append(appended, row)
	})
	table.Populate(context.Background(), Options{Versions: []string{"openjdk11"}})
	table.Wait()

	require.Equal(t, 3, table.Len())
	assert.Equal(t, []int{0, 1, 2}, appended)
	for i, row := range table.Rows() {
		assert.Equal(t, "jdk-11.0.4+11", row.Name)
		assert.Equal(t, "https://example.com/jdk-11.0.4+11", row.Link)
		require.Len(t, row.Assets, 1, "row %d", i)
	}

	arch, ok := table.Cell(1, ColumnArchitecture)
	require.True(t, ok)
	assert.Equal(t, "aarch64", arch)
	assert.Equal(t, []string{"jdk-11.0.4+11", "11", "Release", "JRE", "Eclipse OpenJ9", "Large", "aarch64"},
		RowValues(table.Rows()[1]))

	_, ok = table.Cell(3, 0)
	assert.False(t, ok)
	_, ok = table.Cell(0, len(ColumnNames))
	assert.False(t, ok)
}

func TestPopulateSkipsFailedCombinations(t *testing.T) {
	table := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("os") {
		case "windows":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "mac":
			fmt.Fprint(w, `{"not": "an array"}`)
		default:
			fmt.Fprint(w, releaseJSON("jdk-"+r.URL.Query().Get("os")))
		}
	})

	table.Populate(context.Background(), Options{
		Versions: []string{"openjdk11"},
		Params:   map[string][]string{"os": {"windows", "linux", "mac", "aix"}},
	})
	table.Wait()

	assert.Equal(t, []string{"jdk-linux", "jdk-aix"}, rowNames(table.Rows()))
}

func TestRepopulateDropsCancelledRows(t *testing.T) {
	firstRow := make(chan struct{}, 1)
	table := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/openjdk8") {
			// Stream one release, then hang until the client gives up.
			fmt.Fprint(w, `[{"release_name": "stale", "binaries": [{"os": "linux"}]},`)
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(10 * time.Second):
			}
			return
		}
		fmt.Fprint(w, releaseJSON("fresh"))
	})
	table.OnAppend(func(row int, r models.Release) {
		if r.Name == "stale" {
			select {
			case firstRow <- struct{}{}:
			default:
			}
		}
	})

	table.Populate(context.Background(), Options{
		Versions: []string{"openjdk8"},
		Params:   map[string][]string{"os": {"linux", "mac", "windows"}},
	})
	select {
	case <-firstRow:
	case <-time.After(5 * time.Second):
		t.Fatal("first population never produced a row")
	}

	table.Populate(context.Background(), Options{Versions: []string{"openjdk11"}})
	table.Wait()

	assert.Equal(t, []string{"fresh"}, rowNames(table.Rows()))
}

func TestStopKeepsRows(t *testing.T) {
	table := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, releaseJSON("kept"))
	})
	table.Populate(context.Background(), Options{Versions: []string{"openjdk11"}})
	table.Wait()
	table.Stop()
	table.Stop()

	assert.Equal(t, 1, table.Len())
}

func TestCellValue(t *testing.T) {
	nightly := models.Release{
		Name: "jdk11u-2019-07-20-05-32",
		Assets: []models.ReleaseAsset{{
			BinaryType:     "jdk",
			Implementation: "graal",
			HeapSize:       "normal",
			Architecture:   "x64",
			Version:        "11",
		}},
	}
	assert.Equal(t, "Nightly", CellValue(nightly, ColumnReleaseType))
	assert.Equal(t, "JDK", CellValue(nightly, ColumnBinaryType))
	assert.Equal(t, "graal", CellValue(nightly, ColumnVirtualMachine), "unknown implementations are shown as is")
	assert.Equal(t, "Normal", CellValue(nightly, ColumnHeapSize))
	assert.Equal(t, "", CellValue(nightly, 99))

	nightly.Assets[0].Implementation = "hotspot"
	assert.Equal(t, "Oracle HotSpot", CellValue(nightly, ColumnVirtualMachine))

	empty := models.Release{Name: "no-assets", Stable: true}
	values := RowValues(empty)
	assert.Equal(t, []string{"no-assets", "", "Release", "", "", "", ""}, values)
}
