package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"go-jvman/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// CheckHash verifies a file against the provided hashes (SHA256, BLAKE3).
// It returns true if any of the provided hashes match.
func CheckHash(filepath string, hashes models.Hashes) bool {
	if hashes.SHA256 == "" && hashes.BLAKE3 == "" {
		return false
	}

	if hashes.BLAKE3 != "" {
		sum, err := FileDigest(filepath, blake3.New())
		if err == nil && strings.EqualFold(sum, strings.TrimSpace(hashes.BLAKE3)) {
			log.WithField("hash", "BLAKE3").Debugf("Hash match for %s", filepath)
			return true
		} else if err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error calculating BLAKE3 hash for %s", filepath)
		}
	}

	if hashes.SHA256 != "" {
		sum, err := FileDigest(filepath, sha256.New())
		if err == nil && strings.EqualFold(sum, strings.TrimSpace(hashes.SHA256)) {
			log.WithField("hash", "SHA256").Debugf("Hash match for %s", filepath)
			return true
		} else if err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error calculating SHA256 hash for %s", filepath)
		}
	}

	return false
}

// FileDigest streams the file through h and returns the lowercase hex digest.
func FileDigest(filepath string, h hash.Hash) (string, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading %s: %w", filepath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileBlake3 returns the lowercase hex BLAKE3-256 digest of a file.
func FileBlake3(filepath string) (string, error) {
	return FileDigest(filepath, blake3.New())
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// ConvertToSlug converts a string into a filesystem- and index-friendly slug.
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ReplaceAll(str, "+", "_")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	// Collapse separator runs; a run containing a dash becomes a dash.
	for prev := ""; prev != str; {
		prev = str
		str = strings.ReplaceAll(str, "--", "-")
		str = strings.ReplaceAll(str, "__", "_")
		str = strings.ReplaceAll(str, "-_", "-")
		str = strings.ReplaceAll(str, "_-", "-")
	}

	return strings.Trim(str, "_-")
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}

// ProductParams expands a mapping of parameter name to candidate values into
// every combination, one map per combination. Keys are visited in sorted
// order and the last key varies fastest. A key with no candidates yields no
// combinations; an empty mapping yields a single empty combination.
func ProductParams(params map[string][]string) []map[string]string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]string{{}}
	for _, key := range keys {
		values := params[key]
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				extended := make(map[string]string, len(combo)+1)
				for k, cv := range combo {
					extended[k] = cv
				}
				extended[key] = v
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}
