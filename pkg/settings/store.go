package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Keys lists every recognized dotted key, in display order.
var Keys = []string{
	"cloud.connection_string",
	"cloud.container_name",
	"cloud.blob_folder",
	"download.output_path",
	"download.format",
	"ui.host",
	"ui.port",
}

// Store reads and writes one settings file. It holds no cached state; every
// call goes back to disk, so a Store is safe to reopen per job.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

// DefaultPath returns <user config dir>/clipnimbus/config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "clipnimbus", "config.json"), nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted document merged over defaults. A missing file
// is created with the default document.
func (s *Store) Load() (Document, error) {
	v, exists, err := s.read(false)
	if err != nil {
		return Document{}, err
	}

	doc, err := decode(v)
	if err != nil {
		return Document{}, &CorruptError{Path: s.path, Err: err}
	}

	if !exists {
		if err := s.Save(doc); err != nil {
			return Document{}, fmt.Errorf("persist default settings: %w", err)
		}
	}
	return doc, nil
}

// Show returns the document as a job would see it (defaults, file,
// environment) without creating or modifying anything on disk.
func (s *Store) Show() (Document, error) {
	v, _, err := s.read(true)
	if err != nil {
		return Document{}, err
	}
	doc, err := decode(v)
	if err != nil {
		return Document{}, &CorruptError{Path: s.path, Err: err}
	}
	return doc, nil
}

// Resolve merges, per field, override > environment > persisted > default.
// Like Load, it materializes the default document when the file is missing.
func (s *Store) Resolve(o Overrides) (Resolved, error) {
	if _, err := s.Load(); err != nil {
		return Resolved{}, err
	}

	v, _, err := s.read(true)
	if err != nil {
		return Resolved{}, err
	}

	setIfPresent(v, "cloud.connection_string", o.Connection)
	setIfPresent(v, "cloud.container_name", o.Container)
	setIfPresent(v, "cloud.blob_folder", o.BlobFolder)
	setIfPresent(v, "download.format", o.Format)

	doc, err := decode(v)
	if err != nil {
		return Resolved{}, &CorruptError{Path: s.path, Err: err}
	}

	output := doc.Download.OutputPath
	base := filepath.Dir(s.path)
	if strings.TrimSpace(o.OutputPath) != "" {
		output = o.OutputPath
		base, _ = os.Getwd()
	}
	outAbs, err := absPath(output, base)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve output path: %w", err)
	}

	return Resolved{
		Connection: doc.Cloud.ConnectionString,
		Container:  strings.TrimSpace(doc.Cloud.ContainerName),
		BlobFolder: strings.Trim(strings.TrimSpace(doc.Cloud.BlobFolder), "/"),
		OutputPath: outAbs,
		Format:     doc.Download.Format,
	}, nil
}

// Save atomically replaces the settings file. The file holds a credential,
// so it is written 0600 inside a 0700 directory.
func (s *Store) Save(doc Document) error {
	if s.path == "" {
		return fmt.Errorf("settings path is empty")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp settings file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename settings file: %w", err)
	}
	return nil
}

// Set updates one recognized key and saves the document.
func (s *Store) Set(key, value string) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}
	if err := Apply(&doc, key, value); err != nil {
		return err
	}
	return s.Save(doc)
}

// Apply sets one recognized key on doc without touching disk. doc is left
// unchanged when the key or value is rejected.
func Apply(doc *Document, key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "cloud.connection_string":
		doc.Cloud.ConnectionString = value
	case "cloud.container_name":
		doc.Cloud.ContainerName = strings.TrimSpace(value)
	case "cloud.blob_folder":
		doc.Cloud.BlobFolder = strings.Trim(strings.TrimSpace(value), "/")
	case "download.output_path":
		doc.Download.OutputPath = strings.TrimSpace(value)
	case "download.format":
		doc.Download.Format = strings.TrimSpace(value)
	case "ui.host":
		doc.UI.Host = strings.TrimSpace(value)
	case "ui.port":
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: ui.port must be an integer between 1 and 65535, got %q", ErrInvalidValue, value)
		}
		doc.UI.Port = port
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	doc.fillDefaults()
	return nil
}

// read builds a viper instance layered as defaults < file < (env). exists
// reports whether the file was present.
func (s *Store) read(withEnv bool) (*viper.Viper, bool, error) {
	v := viper.New()
	setDefaults(v)

	if withEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	if s.path == "" {
		return nil, false, fmt.Errorf("settings path is empty")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, false, nil
		}
		return nil, false, &CorruptError{Path: s.path, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, true, &CorruptError{Path: s.path, Err: errors.New("file is empty")}
	}
	if err := ValidateRaw(data); err != nil {
		return nil, true, &CorruptError{Path: s.path, Err: err}
	}

	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, true, &CorruptError{Path: s.path, Err: err}
	}
	return v, true, nil
}

func setDefaults(v *viper.Viper) {
	def := Defaults()
	v.SetDefault("cloud.connection_string", def.Cloud.ConnectionString)
	v.SetDefault("cloud.container_name", def.Cloud.ContainerName)
	v.SetDefault("cloud.blob_folder", def.Cloud.BlobFolder)
	v.SetDefault("download.output_path", def.Download.OutputPath)
	v.SetDefault("download.format", def.Download.Format)
	v.SetDefault("ui.host", def.UI.Host)
	v.SetDefault("ui.port", def.UI.Port)
}

func setIfPresent(v *viper.Viper, key, value string) {
	if strings.TrimSpace(value) != "" {
		v.Set(key, value)
	}
}

func decode(v *viper.Viper) (Document, error) {
	var doc Document
	if err := v.Unmarshal(&doc, func(c *mapstructure.DecoderConfig) {
		c.TagName = "json"
	}); err != nil {
		return Document{}, err
	}
	doc.fillDefaults()
	return doc, nil
}

func absPath(p, base string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Abs(p)
}
