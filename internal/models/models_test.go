package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRelease = `{
  "release_name": "jdk-11.0.4+11",
  "release_link": "https://github.com/AdoptOpenJDK/openjdk11-binaries/releases/tag/jdk-11.0.4%2B11",
  "timestamp": "2019-07-18T11:20:42Z",
  "release": true,
  "download_count": 1200,
  "binaries": [
    {
      "os": "linux",
      "architecture": "x64",
      "binary_type": "jdk",
      "openjdk_impl": "hotspot",
      "binary_name": "OpenJDK11U-jdk_x64_linux_hotspot_11.0.4_11.tar.gz",
      "binary_link": "https://example.com/OpenJDK11U-jdk_x64_linux_hotspot_11.0.4_11.tar.gz",
      "binary_size": 195000000,
      "checksum_link": "https://example.com/OpenJDK11U-jdk_x64_linux_hotspot_11.0.4_11.tar.gz.sha256.txt",
      "version": "11",
      "version_data": {"openjdk_version": "11.0.4+11", "semver": "11.0.4+11"},
      "heap_size": "normal",
      "download_count": 400,
      "updated_at": "2019-07-19T08:00:00Z"
    },
    {
      "os": "windows",
      "architecture": "x64",
      "binary_type": "jre",
      "openjdk_impl": "openj9",
      "heap_size": "large",
      "version_data": {"semver": "11.0.4+11"}
    },
    {
      "os": "mac",
      "architecture": "x64",
      "binary_type": "jdk",
      "openjdk_impl": "hotspot",
      "timestamp": null
    }
  ]
}`

func decodeRelease(t *testing.T, raw string) (Release, error) {
	t.Helper()
	var rec ReleaseRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec.ToRelease()
}

func TestToRelease(t *testing.T) {
	release, err := decodeRelease(t, sampleRelease)
	require.NoError(t, err)

	assert.Equal(t, "jdk-11.0.4+11", release.Name)
	assert.True(t, release.Stable)
	assert.Equal(t, int64(1200), release.DownloadCount)
	require.NotNil(t, release.Timestamp)
	assert.Equal(t, time.Date(2019, 7, 18, 11, 20, 42, 0, time.UTC), *release.Timestamp)
	require.Len(t, release.Assets, 3)

	first := release.Assets[0]
	assert.Equal(t, "linux", first.OS)
	assert.Equal(t, int64(195000000), first.BinarySize)
	assert.Equal(t, "11.0.4+11", first.VersionData.OpenJDKVersion)
	require.NotNil(t, first.UpdatedAt)
	assert.Nil(t, first.Timestamp)

	second := release.Assets[1]
	assert.Equal(t, "", second.BinaryLink)
	assert.Equal(t, "", second.VersionData.OpenJDKVersion)
	assert.Nil(t, second.UpdatedAt)

	assert.Nil(t, release.Assets[2].Timestamp, "null timestamp is treated as absent")
}

func TestToReleaseMissingFields(t *testing.T) {
	release, err := decodeRelease(t, `{}`)
	require.NoError(t, err)
	assert.Equal(t, "", release.Name)
	assert.False(t, release.Stable)
	assert.Nil(t, release.Timestamp)
	assert.Empty(t, release.Assets)
	assert.Empty(t, release.Flatten())
}

func TestToReleaseMalformedTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"release timestamp", `{"release_name": "x", "timestamp": "yesterday"}`},
		{"asset updated_at", `{"binaries": [{"updated_at": "2019-07-19"}]}`},
		{"asset timestamp", `{"binaries": [{"timestamp": "2019/07/19 08:00"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRelease(t, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestDisplayLabel(t *testing.T) {
	asset := ReleaseAsset{
		Implementation: "openj9",
		VersionData:    VersionData{Semver: "11.0.4+11"},
		Architecture:   "x64",
		BinaryType:     "jre",
	}
	assert.Equal(t, "openj9-11.0.4+11-x64-jre", asset.DisplayLabel())
}

func TestFlatten(t *testing.T) {
	release, err := decodeRelease(t, sampleRelease)
	require.NoError(t, err)

	flat := release.Flatten()
	require.Len(t, flat, 3)
	for i, row := range flat {
		require.Len(t, row.Assets, 1)
		assert.Equal(t, release.Name, row.Name)
		assert.Equal(t, release.Link, row.Link)
		assert.Equal(t, release.Assets[i], row.Assets[0])
	}

	// Copies must not share their asset slice with the parent.
	flat[0].Assets[0].OS = "changed"
	assert.Equal(t, "linux", release.Assets[0].OS)
}

func TestChannel(t *testing.T) {
	assert.True(t, ChannelNightly.Nightly())
	assert.False(t, ChannelReleases.Nightly())
}
