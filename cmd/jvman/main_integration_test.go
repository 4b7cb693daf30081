package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Setup ---

var (
	binaryName = "jvman"
	binaryPath string
)

// TestMain builds the binary once for all tests in the package.
func TestMain(m *testing.M) {
	buildDir, err := os.MkdirTemp("", "jvman-integration-")
	if err != nil {
		fmt.Printf("Failed to create build directory: %v\n", err)
		os.Exit(1)
	}
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	binaryPath = filepath.Join(buildDir, binaryName)

	_, filename, _, _ := runtime.Caller(0)
	fmt.Println("Building binary for integration tests...")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	buildCmd.Dir = filepath.Dir(filename)
	if out, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Printf("Failed to build binary: %v\nOutput:\n%s\n", err, out)
		os.RemoveAll(buildDir)
		os.Exit(1)
	}

	exitCode := m.Run()
	os.RemoveAll(buildDir)
	os.Exit(exitCode)
}

// --- Helper Functions ---

const linuxReleases = `[
  {"release_name": "jdk-11.0.4+11", "release_link": "https://example.com/jdk-11.0.4+11", "release": true,
   "timestamp": "2019-07-18T11:20:42Z",
   "binaries": [
     {"os": "linux", "architecture": "x64", "binary_type": "jdk", "openjdk_impl": "hotspot", "heap_size": "normal", "version": "11",
      "binary_name": "OpenJDK11U-jdk_x64_linux_hotspot.tar.gz", "binary_link": "https://example.com/OpenJDK11U-jdk_x64_linux_hotspot.tar.gz"},
     {"os": "linux", "architecture": "x64", "binary_type": "jre", "openjdk_impl": "openj9", "heap_size": "large", "version": "11"}
   ]}
]`

const macReleases = `[
  {"release_name": "jdk-11.0.4+11", "release": true,
   "binaries": [{"os": "mac", "architecture": "x64", "binary_type": "jdk", "openjdk_impl": "hotspot", "heap_size": "normal", "version": "11"}]}
]`

var testPayload = []byte(strings.Repeat("OpenJDK bytes ", 300))

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/info/releases/openjdk11", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("os") {
		case "linux":
			fmt.Fprint(w, linuxReleases)
		case "mac":
			fmt.Fprint(w, macReleases)
		default:
			http.Error(w, "no such build", http.StatusNotFound)
		}
	})
	mux.HandleFunc("/files/jdk.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(testPayload)))
		w.Header().Set("Content-Disposition", `attachment; filename="OpenJDK11U-jdk_x64_linux_hotspot.tar.gz"`)
		w.Write(testPayload)
	})
	mux.HandleFunc("/files/jdk.tar.gz.sha256.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%x  OpenJDK11U-jdk_x64_linux_hotspot.tar.gz\n", sha256.Sum256(testPayload))
	})
	mux.HandleFunc("/files/wrong.sha256.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%x  other.tar.gz\n", sha256.Sum256([]byte("something else")))
	})
	mux.HandleFunc("/files/truncated.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5000")
		w.Header().Set("Content-Disposition", "attachment; filename=truncated.zip")
		w.Write(testPayload[:1500])
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// testEnv is one isolated save directory with its config file.
type testEnv struct {
	saveDir    string
	configPath string
	apiBase    string
	server     *httptest.Server
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	server := newTestServer(t)
	saveDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf(`SavePath = '%s'
Versions = ["openjdk11"]
OperatingSystems = ["linux", "mac"]
ChunkSize = 512
`, saveDir)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644), "Failed to write temporary config file")
	return testEnv{saveDir: saveDir, configPath: configPath, apiBase: server.URL, server: server}
}

// run executes the binary with the env's config and API base.
func (e testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	full := append([]string{"--config", e.configPath, "--api-base", e.apiBase, "--log-level", "error"}, args...)
	cmd := exec.Command(binaryPath, full...)
	cmd.Dir = e.saveDir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("Command %v failed with error: %v\nStderr:\n%s", args, err, stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

type historyEntry struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	FilePath     string `json:"filePath"`
	TotalBytes   int64  `json:"totalBytes"`
	BytesWritten int64  `json:"bytesWritten"`
	Blake3       string `json:"blake3"`
	Status       string `json:"status"`
	ErrorDetails string `json:"errorDetails"`
}

func readHistory(t *testing.T, e testEnv) []historyEntry {
	t.Helper()
	stdout, _, err := e.run(t, "history", "--json")
	require.NoError(t, err)
	var entries []historyEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries), "history output: %s", stdout)
	return entries
}

// --- Tests ---

func TestHelp(t *testing.T) {
	stdout, err := exec.Command(binaryPath, "--help").Output()
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "available")
	assert.Contains(t, string(stdout), "download")
	assert.Contains(t, string(stdout), "history")
}

func TestAvailableJSON(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := env.run(t, "available", "--json", "--os", "linux,mac,windows")
	require.NoError(t, err)

	var rows []struct {
		Name     string `json:"release_name"`
		Binaries []struct {
			OS         string `json:"os"`
			BinaryType string `json:"binary_type"`
		} `json:"binaries"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows), "output: %s", stdout)

	// windows answers 404 and is skipped.
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, "jdk-11.0.4+11", row.Name)
		assert.Len(t, row.Binaries, 1)
	}
	assert.Equal(t, "linux", rows[0].Binaries[0].OS)
	assert.Equal(t, "jre", rows[1].Binaries[0].BinaryType)
	assert.Equal(t, "mac", rows[2].Binaries[0].OS)
}

func TestAvailableTable(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := env.run(t, "available", "--links")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Release Name")
	assert.Contains(t, stdout, "Oracle HotSpot")
	assert.Contains(t, stdout, "Eclipse OpenJ9")
	assert.Contains(t, stdout, "JRE")
	assert.Contains(t, stdout, "Large")
	assert.Contains(t, stdout, "https://example.com/OpenJDK11U-jdk_x64_linux_hotspot.tar.gz")
	assert.Contains(t, stdout, "3 binaries")
}

func TestAvailableIndexAndFind(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "find", "+os:mac")
	assert.Error(t, err, "find without an index fails")

	_, _, err = env.run(t, "available", "--index")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(env.saveDir, "jvman.bleve"))

	stdout, _, err := env.run(t, "find", "-q", "+os:mac")
	require.NoError(t, err)
	assert.Contains(t, stdout, "jdk-11.0.4_11-mac-x64-jdk-hotspot-normal")
	assert.Contains(t, stdout, "1 of 1 hits shown")

	stdout, _, err = env.run(t, "find", "+implementation:openj9")
	require.NoError(t, err)
	assert.Contains(t, stdout, "heapSize: large")
}

func TestDownloadRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	url := env.apiBase + "/files/jdk.tar.gz"

	stdout, _, err := env.run(t, "download", url, "--verify", "--label", "hotspot-11-x64-jdk", "--index")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Checksum verified")

	path := filepath.Join(env.saveDir, "OpenJDK11U-jdk_x64_linux_hotspot.tar.gz")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testPayload, data)

	entries := readHistory(t, env)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "Completed", entry.Status)
	assert.Equal(t, path, entry.FilePath)
	assert.Equal(t, int64(len(testPayload)), entry.TotalBytes)
	assert.Equal(t, entry.TotalBytes, entry.BytesWritten)
	assert.Len(t, entry.Blake3, 64)

	stdout, _, err = env.run(t, "find", "+type:download")
	require.NoError(t, err)
	assert.Contains(t, stdout, "dl_"+entry.ID)

	stdout, _, err = env.run(t, "history", "verify")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 ok")

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))
	stdout, _, err = env.run(t, "history", "verify")
	assert.Error(t, err)
	assert.Contains(t, stdout, "MISMATCH")

	_, _, err = env.run(t, "history", "remove", entry.ID[:8], "--delete-file")
	require.NoError(t, err)
	assert.NoFileExists(t, path)
	assert.Empty(t, readHistory(t, env))

	_, _, err = env.run(t, "history", "remove", entry.ID)
	assert.Error(t, err)
}

func TestDownloadChecksumMismatch(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "download", env.apiBase+"/files/jdk.tar.gz", "--checksum-url", env.apiBase+"/files/wrong.sha256.txt")
	assert.Error(t, err)

	entries := readHistory(t, env)
	require.Len(t, entries, 1)
	assert.Equal(t, "Failed", entries[0].Status)
	assert.Contains(t, entries[0].ErrorDetails, "hash mismatch")
}

func TestFailedDownloadAndClean(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "download", env.apiBase+"/files/missing.zip")
	assert.Error(t, err, "404 fails the download")

	_, _, err = env.run(t, "download", env.apiBase+"/files/truncated.zip")
	assert.Error(t, err, "short body fails the download")

	partial := filepath.Join(env.saveDir, "truncated.zip")
	info, err := os.Stat(partial)
	require.NoError(t, err, "partial file is left on disk")
	assert.Equal(t, int64(1500), info.Size())

	entries := readHistory(t, env)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "Failed", e.Status)
		assert.NotEmpty(t, e.ErrorDetails)
	}

	stdout, _, err := env.run(t, "clean", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Would remove "+partial)
	assert.FileExists(t, partial)

	stdout, _, err = env.run(t, "clean", "--purge")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed 1 partial files")
	assert.NoFileExists(t, partial)
	assert.Empty(t, readHistory(t, env))
}

func TestRevealUnknownTarget(t *testing.T) {
	env := newTestEnv(t)
	_, stderr, err := env.run(t, "reveal", filepath.Join(env.saveDir, "nothing-here"))
	assert.Error(t, err)
	assert.Contains(t, stderr, "neither a path nor a history id")
}
