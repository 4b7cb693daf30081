package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go-jvman/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultApiBaseUrl   = "https://api.adoptopenjdk.net/v2"
	DefaultChunkSize    = 1024
	DefaultTimeoutSec   = 60
	DefaultDatabaseName = "jvman.db"
	DefaultIndexName    = "jvman.bleve"
)

// Defaults returns the configuration used when no file is present.
func Defaults() models.Config {
	return models.Config{
		ApiBaseUrl:          DefaultApiBaseUrl,
		ApiClientTimeoutSec: DefaultTimeoutSec,
		SavePath:            ".",
		Versions:            []string{"openjdk11"},
		ChunkSize:           DefaultChunkSize,
	}
}

// LoadConfig reads the TOML configuration at configFilePath on top of
// Defaults. A missing file is not an error; the defaults are returned.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = DefaultConfigPath
	}

	cfg := Defaults()
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Config file %s not found, using defaults", configFilePath)
			ApplyDefaults(&cfg)
			return cfg, nil
		}
		return Defaults(), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	ApplyDefaults(&cfg)
	log.Debugf("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills in fields that were explicitly zeroed or left empty,
// and derives the database and index paths from SavePath.
func ApplyDefaults(cfg *models.Config) {
	if cfg.ApiBaseUrl == "" {
		cfg.ApiBaseUrl = DefaultApiBaseUrl
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = DefaultTimeoutSec
	}
	if cfg.ChunkSize <= 0 {
		log.Debugf("ChunkSize not set or invalid (%d), defaulting to %d", cfg.ChunkSize, DefaultChunkSize)
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.SavePath == "" {
		cfg.SavePath = "."
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.SavePath, DefaultDatabaseName)
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = filepath.Join(cfg.SavePath, DefaultIndexName)
	}
}
