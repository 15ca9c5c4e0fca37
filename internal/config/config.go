// Package config loads paperdrop's YAML settings and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendDropbox = "dropbox"
	BackendGCS     = "gcs"
)

type Config struct {
	Backend string        `yaml:"backend"`
	Dropbox DropboxConfig `yaml:"dropbox"`
	GCS     GCSConfig     `yaml:"gcs"`
	Notes   NotesConfig   `yaml:"notes"`
	Dirs    DirsConfig    `yaml:"dirs"`
	HTTP    HTTPConfig    `yaml:"http"`

	// Aliases adds user defined {name} tokens on top of the built-in ones.
	Aliases map[string]string `yaml:"aliases"`
}

type DropboxConfig struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	AppKey       string `yaml:"app_key"`
	AppSecret    string `yaml:"app_secret"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

// NotesConfig controls the optional Firestore record of ingested papers.
type NotesConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

type DirsConfig struct {
	Books   string `yaml:"books"`
	Papers  string `yaml:"papers"`
	Archive string `yaml:"archive"`
}

type HTTPConfig struct {
	UserAgent string `yaml:"user_agent"`
	// Interval is the minimum spacing between metadata page fetches.
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		Backend: BackendDropbox,
		Notes:   NotesConfig{Collection: "papers"},
		Dirs: DirsConfig{
			Books:   "/books",
			Papers:  "/books/papers",
			Archive: "/books/archive",
		},
		HTTP: HTTPConfig{
			Interval: 3 * time.Second,
			Timeout:  30 * time.Second,
		},
	}
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Backend = GetEnv("PAPERDROP_BACKEND", c.Backend)
	c.Dropbox.AccessToken = GetEnv("DROPBOX_ACCESS_TOKEN", c.Dropbox.AccessToken)
	c.Dropbox.RefreshToken = GetEnv("DROPBOX_REFRESH_TOKEN", c.Dropbox.RefreshToken)
	c.Dropbox.AppKey = GetEnv("DROPBOX_APP_KEY", c.Dropbox.AppKey)
	c.Dropbox.AppSecret = GetEnv("DROPBOX_APP_SECRET", c.Dropbox.AppSecret)
	c.GCS.Bucket = GetEnv("PAPERDROP_GCS_BUCKET", c.GCS.Bucket)
	c.GCS.CredentialsFile = GetEnv("GOOGLE_APPLICATION_CREDENTIALS", c.GCS.CredentialsFile)
	c.Notes.ProjectID = GetEnv("PROJECT_ID", c.Notes.ProjectID)
	c.Notes.Collection = GetEnv("PAPERDROP_NOTES_COLLECTION", c.Notes.Collection)
}

// Validate checks settings that can be judged without touching the network.
// Credentials are checked when a backend is built.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendDropbox, BackendGCS:
	default:
		return fmt.Errorf("unknown backend %q: want %q or %q", c.Backend, BackendDropbox, BackendGCS)
	}
	if c.Dirs.Books == "" || c.Dirs.Papers == "" || c.Dirs.Archive == "" {
		return fmt.Errorf("dirs.books, dirs.papers and dirs.archive must all be set")
	}
	if c.Notes.Enabled && c.Notes.ProjectID == "" {
		return fmt.Errorf("notes are enabled but no project_id is set")
	}
	for name := range c.Aliases {
		if _, ok := builtinNames[name]; ok {
			return fmt.Errorf("alias %q shadows a built-in alias", name)
		}
	}
	return nil
}
