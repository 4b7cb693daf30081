package index

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go-jvman/internal/helpers"
	"go-jvman/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "jvman.bleve"

// Item types.
const (
	TypeAsset    = "asset"
	TypeDownload = "download"
)

// Item is one searchable document: a catalog asset row or a finished
// download. Fields are searchable by their JSON tag names, e.g. '+os:mac'
// or '+implementation:openj9'.
type Item struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ReleaseName    string    `json:"releaseName"`
	ReleaseLink    string    `json:"releaseLink,omitempty"`
	Channel        string    `json:"channel"`
	Version        string    `json:"version,omitempty"`
	Semver         string    `json:"semver,omitempty"`
	OS             string    `json:"os,omitempty"`
	Architecture   string    `json:"architecture,omitempty"`
	BinaryType     string    `json:"binaryType,omitempty"`
	Implementation string    `json:"implementation,omitempty"`
	HeapSize       string    `json:"heapSize,omitempty"`
	BinaryName     string    `json:"binaryName,omitempty"`
	BinaryLink     string    `json:"binaryLink,omitempty"`
	ChecksumLink   string    `json:"checksumLink,omitempty"`
	BinarySize     float64   `json:"binarySize,omitempty"`
	DownloadCount  float64   `json:"downloadCount,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	FilePath       string    `json:"filePath,omitempty"`
}

// ItemFromRelease builds the document for a single-asset release row. It
// returns false for a release without assets.
func ItemFromRelease(r models.Release) (Item, bool) {
	asset, ok := r.Asset()
	if !ok {
		return Item{}, false
	}
	channel := models.ChannelNightly
	if r.Stable {
		channel = models.ChannelReleases
	}
	item := Item{
		ID: helpers.ConvertToSlug(fmt.Sprintf("%s-%s-%s-%s-%s-%s",
			r.Name, asset.OS, asset.Architecture, asset.BinaryType, asset.Implementation, asset.HeapSize)),
		Type:           TypeAsset,
		ReleaseName:    r.Name,
		ReleaseLink:    r.Link,
		Channel:        string(channel),
		Version:        asset.Version,
		Semver:         asset.VersionData.Semver,
		OS:             asset.OS,
		Architecture:   asset.Architecture,
		BinaryType:     asset.BinaryType,
		Implementation: asset.Implementation,
		HeapSize:       asset.HeapSize,
		BinaryName:     asset.BinaryName,
		BinaryLink:     asset.BinaryLink,
		ChecksumLink:   asset.ChecksumLink,
		BinarySize:     float64(asset.BinarySize),
		DownloadCount:  float64(asset.DownloadCount),
	}
	if r.Timestamp != nil {
		item.Timestamp = *r.Timestamp
	}
	return item, true
}

// ItemFromEntry builds the document for a recorded download.
func ItemFromEntry(entry models.DatabaseEntry) Item {
	return Item{
		ID:          "dl_" + entry.ID,
		Type:        TypeDownload,
		ReleaseName: entry.Label,
		BinaryName:  entry.Filename,
		BinaryLink:  entry.SourceURL,
		BinarySize:  float64(entry.TotalBytes),
		Timestamp:   entry.FinishedAt,
		FilePath:    entry.FilePath,
	}
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new index at: %s", indexPath)
		idx, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return idx, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(idx bleve.Index, item Item) error {
	return idx.Index(item.ID, item)
}

// IndexRelease indexes every asset of r as its own item, in one batch.
// It returns the number of items indexed.
func IndexRelease(idx bleve.Index, r models.Release) (int, error) {
	batch := idx.NewBatch()
	for _, row := range r.Flatten() {
		item, _ := ItemFromRelease(row)
		if err := batch.Index(item.ID, item); err != nil {
			return 0, fmt.Errorf("error indexing %s: %w", item.ID, err)
		}
	}
	if batch.Size() == 0 {
		return 0, nil
	}
	n := batch.Size()
	if err := idx.Batch(batch); err != nil {
		return 0, err
	}
	return n, nil
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(idx bleve.Index, query string, size int) (*bleve.SearchResult, error) {
	searchRequest := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	searchRequest.Fields = []string{"*"}
	if size > 0 {
		searchRequest.Size = size
	}
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
