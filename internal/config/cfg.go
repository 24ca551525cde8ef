// Package config loads program configuration and prepares logging.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"github.com/metcalfc/folio/internal/state"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

const AppName = "folio"

type (
	LibraryConfig struct {
		StorageDir string `yaml:"storage_dir"`
		StateFile  string `yaml:"state_file" validate:"omitempty,filepath"`
		WorkDir    string `yaml:"work_dir"`
	}

	ReaderConfig struct {
		DebounceMS       int    `yaml:"debounce_ms" validate:"min=50,max=2000"`
		ColumnGap        int    `yaml:"column_gap" validate:"min=0,max=400"`
		SaveOnPageChange bool   `yaml:"save_on_page_change"`
		Stylesheet       string `yaml:"stylesheet" validate:"omitempty,filepath"`
		Theme            string `yaml:"theme" validate:"oneof=light dark"`
	}

	Config struct {
		Version int           `yaml:"version" validate:"eq=1"`
		Library LibraryConfig `yaml:"library"`
		Reader  ReaderConfig  `yaml:"reader"`
		Logging LoggingConfig `yaml:"logging"`
	}
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// unknown keys are errors, so no yaml.Unmarshal here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}

// Storage returns the directory imported books are copied to.
func (c *LibraryConfig) Storage() string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName, "books")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", AppName, "books")
}

// State returns the path of the reading state file.
func (c *LibraryConfig) State() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return state.DefaultPath()
}

func (c *ReaderConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// DefaultTheme is the theme used before one is saved.
func (c *ReaderConfig) DefaultTheme() state.Theme {
	if c.Theme == string(state.ThemeDark) {
		return state.ThemeDark
	}
	return state.ThemeLight
}

// LoadStylesheet returns the user stylesheet, nil when none is configured.
func (c *ReaderConfig) LoadStylesheet() ([]byte, error) {
	if c.Stylesheet == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Stylesheet)
	if err != nil {
		return nil, fmt.Errorf("unable to read stylesheet: %w", err)
	}
	return data, nil
}
