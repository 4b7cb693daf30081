package models

import (
	"fmt"
	"time"
)

// TimestampLayout is the layout the release API uses for every timestamp field.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Channel selects which release stream of the API is queried.
type Channel string

const (
	ChannelReleases Channel = "releases"
	ChannelNightly  Channel = "nightly"
)

// Nightly reports whether the channel is the unstable nightly stream.
func (c Channel) Nightly() bool {
	return c == ChannelNightly
}

// Download statuses stored in DatabaseEntry.Status.
const (
	StatusDownloading = "Downloading"
	StatusCompleted   = "Completed"
	StatusStopped     = "Stopped"
	StatusFailed      = "Failed"
)

type (
	Config struct {
		// Connection
		ApiBaseUrl          string `toml:"ApiBaseUrl"`
		ApiClientTimeoutSec int    `toml:"ApiClientTimeoutSec"`

		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Catalog filters, expanded into one query per combination
		Versions         []string `toml:"Versions"` // e.g. openjdk8, openjdk11
		Nightly          bool     `toml:"Nightly"`
		OperatingSystems []string `toml:"OperatingSystems"`
		Architectures    []string `toml:"Architectures"`
		BinaryTypes      []string `toml:"BinaryTypes"`
		Implementations  []string `toml:"Implementations"`
		HeapSizes        []string `toml:"HeapSizes"`

		// Downloader behavior
		ChunkSize       int  `toml:"ChunkSize"`
		VerifyChecksums bool `toml:"VerifyChecksums"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// VersionData is the parsed version triple of an asset.
	VersionData struct {
		OpenJDKVersion string `json:"openjdk_version"`
		Semver         string `json:"semver"`
		Optional       string `json:"optional,omitempty"`
	}

	// Release is one published JDK build. It is not modified after conversion.
	Release struct {
		Name          string         `json:"release_name"`
		Link          string         `json:"release_link"`
		Timestamp     *time.Time     `json:"timestamp,omitempty"`
		Stable        bool           `json:"release"`
		Assets        []ReleaseAsset `json:"binaries"`
		DownloadCount int64          `json:"download_count"`
	}

	// ReleaseAsset is a single downloadable artifact owned by a Release.
	ReleaseAsset struct {
		OS             string      `json:"os"`
		Architecture   string      `json:"architecture"`
		BinaryType     string      `json:"binary_type"`
		Implementation string      `json:"openjdk_impl"`
		BinaryName     string      `json:"binary_name"`
		BinaryLink     string      `json:"binary_link"`
		BinarySize     int64       `json:"binary_size"`
		ChecksumLink   string      `json:"checksum_link"`
		Version        string      `json:"version"`
		VersionData    VersionData `json:"version_data"`
		HeapSize       string      `json:"heap_size"`
		DownloadCount  int64       `json:"download_count"`
		UpdatedAt      *time.Time  `json:"updated_at,omitempty"`
		Timestamp      *time.Time  `json:"timestamp,omitempty"`
		ReleaseName    string      `json:"release_name"`
		ReleaseLink    string      `json:"release_link"`
	}

	// ReleaseRecord is a release exactly as the API serializes it.
	// Every field is optional on the wire.
	ReleaseRecord struct {
		ReleaseName   *string              `json:"release_name"`
		ReleaseLink   *string              `json:"release_link"`
		Timestamp     *string              `json:"timestamp"`
		Release       *bool                `json:"release"`
		Binaries      []ReleaseAssetRecord `json:"binaries"`
		DownloadCount *int64               `json:"download_count"`
	}

	ReleaseAssetRecord struct {
		OS            *string `json:"os"`
		Architecture  *string `json:"architecture"`
		BinaryType    *string `json:"binary_type"`
		OpenJDKImpl   *string `json:"openjdk_impl"`
		BinaryName    *string `json:"binary_name"`
		BinaryLink    *string `json:"binary_link"`
		BinarySize    *int64  `json:"binary_size"`
		ChecksumLink  *string `json:"checksum_link"`
		Version       *string `json:"version"`
		VersionData   *struct {
			OpenJDKVersion *string `json:"openjdk_version"`
			Semver         *string `json:"semver"`
			Optional       *string `json:"optional"`
		} `json:"version_data"`
		HeapSize      *string `json:"heap_size"`
		DownloadCount *int64  `json:"download_count"`
		UpdatedAt     *string `json:"updated_at"`
		Timestamp     *string `json:"timestamp"`
		ReleaseName   *string `json:"release_name"`
		ReleaseLink   *string `json:"release_link"`
	}

	// DatabaseEntry is one recorded download in the history store.
	DatabaseEntry struct {
		ID           string    `json:"id"`
		Label        string    `json:"label,omitempty"`
		SourceURL    string    `json:"sourceUrl"`
		Filename     string    `json:"filename"`
		FilePath     string    `json:"filePath"`
		TotalBytes   int64     `json:"totalBytes"`
		BytesWritten int64     `json:"bytesWritten"`
		Blake3       string    `json:"blake3,omitempty"`
		Status       string    `json:"status"`
		ErrorDetails string    `json:"errorDetails,omitempty"`
		StartedAt    time.Time `json:"startedAt"`
		FinishedAt   time.Time `json:"finishedAt,omitempty"`
	}

	// Hashes are the expected digests of a file; empty fields are not checked.
	Hashes struct {
		SHA256 string `json:"SHA256,omitempty"`
		BLAKE3 string `json:"BLAKE3,omitempty"`
	}
)

// DisplayLabel identifies the asset as implementation-semver-architecture-binaryType.
func (a ReleaseAsset) DisplayLabel() string {
	return fmt.Sprintf("%s-%s-%s-%s", a.Implementation, a.VersionData.Semver, a.Architecture, a.BinaryType)
}

// Flatten splits a release into one standalone release per asset. Each copy
// keeps the parent's name and link and owns its single asset.
func (r Release) Flatten() []Release {
	flat := make([]Release, 0, len(r.Assets))
	for _, asset := range r.Assets {
		standalone := r
		standalone.Assets = []ReleaseAsset{asset}
		flat = append(flat, standalone)
	}
	return flat
}

// Asset returns the first asset of the release, or false when it has none.
func (r Release) Asset() (ReleaseAsset, bool) {
	if len(r.Assets) == 0 {
		return ReleaseAsset{}, false
	}
	return r.Assets[0], true
}

// ToRelease converts the wire record into a Release. Absent fields become
// zero values and absent timestamps become nil; a timestamp that is present
// but malformed fails the whole record.
func (rec ReleaseRecord) ToRelease() (Release, error) {
	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return Release{}, fmt.Errorf("release %q: %w", str(rec.ReleaseName), err)
	}

	release := Release{
		Name:          str(rec.ReleaseName),
		Link:          str(rec.ReleaseLink),
		Timestamp:     ts,
		Stable:        rec.Release != nil && *rec.Release,
		DownloadCount: num(rec.DownloadCount),
		Assets:        make([]ReleaseAsset, 0, len(rec.Binaries)),
	}
	for i, b := range rec.Binaries {
		asset, err := b.ToAsset()
		if err != nil {
			return Release{}, fmt.Errorf("release %q binary %d: %w", release.Name, i, err)
		}
		release.Assets = append(release.Assets, asset)
	}
	return release, nil
}

// ToAsset converts the wire record into a ReleaseAsset.
func (rec ReleaseAssetRecord) ToAsset() (ReleaseAsset, error) {
	updatedAt, err := parseTimestamp(rec.UpdatedAt)
	if err != nil {
		return ReleaseAsset{}, fmt.Errorf("updated_at: %w", err)
	}
	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return ReleaseAsset{}, fmt.Errorf("timestamp: %w", err)
	}

	asset := ReleaseAsset{
		OS:             str(rec.OS),
		Architecture:   str(rec.Architecture),
		BinaryType:     str(rec.BinaryType),
		Implementation: str(rec.OpenJDKImpl),
		BinaryName:     str(rec.BinaryName),
		BinaryLink:     str(rec.BinaryLink),
		BinarySize:     num(rec.BinarySize),
		ChecksumLink:   str(rec.ChecksumLink),
		Version:        str(rec.Version),
		HeapSize:       str(rec.HeapSize),
		DownloadCount:  num(rec.DownloadCount),
		UpdatedAt:      updatedAt,
		Timestamp:      ts,
		ReleaseName:    str(rec.ReleaseName),
		ReleaseLink:    str(rec.ReleaseLink),
	}
	if rec.VersionData != nil {
		asset.VersionData = VersionData{
			OpenJDKVersion: str(rec.VersionData.OpenJDKVersion),
			Semver:         str(rec.VersionData.Semver),
			Optional:       str(rec.VersionData.Optional),
		}
	}
	return asset, nil
}

func parseTimestamp(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := time.Parse(TimestampLayout, *value)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", *value, err)
	}
	return &t, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func num(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
