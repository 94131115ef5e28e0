// Package config manages YAML-based configuration, CLI flags, and import folders.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CageChen/markdok/internal/logging"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Folder is a directory (optionally a git ref of a repository) whose markdown
// files are imported into the namespace under /<alias>.
type Folder struct {
	Path    string   `yaml:"path" json:"path"`
	Alias   string   `yaml:"alias" json:"alias"`
	GitRef  string   `yaml:"git_ref,omitempty" json:"git_ref,omitempty"`
	SubPath string   `yaml:"sub_path,omitempty" json:"sub_path,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Database selects and configures the namespace store.
type Database struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn,omitempty"`
	MaxOpenConns int    `yaml:"max_open_conns,omitempty"`
}

// Config holds all configuration options for markdok
type Config struct {
	Port  int    `yaml:"port"`
	Theme string `yaml:"theme"`
	Watch bool   `yaml:"watch"`
	Open  bool   `yaml:"open"`

	Database Database       `yaml:"database"`
	Log      logging.Config `yaml:"log"`

	// Folders imported at startup
	Folders    []Folder `yaml:"folders,omitempty" json:"folders"`
	Extensions []string `yaml:"extensions"`
	Exclude    []string `yaml:"exclude"`

	// Internal: path of the config file that was loaded
	configPath string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:       8080,
		Theme:      "light",
		Watch:      true,
		Open:       false,
		Database:   Database{Driver: DriverMemory},
		Log:        logging.Config{Level: "info", Format: "console"},
		Extensions: []string{".md", ".markdown"},
		Exclude:    []string{"node_modules", ".git", ".svn"},
	}
}

// GetConfigDir returns the config directory path
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/markdok"
	}
	return filepath.Join(home, ".config", "markdok")
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the config file and command line flags
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with an explicit argument list.
func LoadArgs(args []string) (*Config, error) {
	cfg := DefaultConfig()

	// Accept `markdok serve --port ...`
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}

	fset := flag.NewFlagSet("markdok", flag.ContinueOnError)
	port := fset.Int("port", 0, "HTTP server port")
	theme := fset.String("theme", "", "Default theme (light/dark)")
	watch := fset.Bool("watch", true, "Sync changes from imported local folders")
	open := fset.Bool("open", false, "Open browser on startup")
	configFile := fset.String("config", "", "Configuration file path")
	driver := fset.String("db", "", "Storage driver (memory/postgres)")
	dsn := fset.String("dsn", "", "Postgres connection string")
	logLevel := fset.String("log-level", "", "Log level (debug/info/warn/error)")
	logFormat := fset.String("log-format", "", "Log format (console/json)")
	importPath := fset.String("import", "", "Directory of markdown files to import")
	fset.StringVar(importPath, "i", "", "Directory of markdown files to import (shorthand)")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	// Determine config file path
	var cfgPath string
	if *configFile != "" {
		cfgPath = *configFile
	} else if globalConfig := GetConfigPath(); fileExists(globalConfig) {
		cfgPath = globalConfig
	} else if fileExists("markdok.yaml") {
		cfgPath = "markdok.yaml"
	}

	if cfgPath != "" {
		if err := cfg.loadFromFile(cfgPath); err != nil && *configFile != "" {
			// Only fail if the user explicitly named the file
			return nil, err
		}
		cfg.configPath = cfgPath
	}

	// Command line flags override the config file (only if explicitly set)
	if *port != 0 {
		cfg.Port = *port
	}
	if *theme != "" {
		cfg.Theme = *theme
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
		if *driver == "" {
			cfg.Database.Driver = DriverPostgres
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	cfg.Watch = *watch
	cfg.Open = *open

	if *importPath != "" {
		if err := cfg.AddFolder(*importPath, "", "", "", nil); err != nil {
			return nil, err
		}
	}

	cfg.resolveFolders()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			// Fall back to the libpq environment convention
			c.Database.DSN = os.Getenv("DATABASE_URL")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	seen := make(map[string]bool)
	for _, f := range c.Folders {
		if strings.Contains(f.Alias, "/") {
			return fmt.Errorf("folder alias %q must not contain '/'", f.Alias)
		}
		if seen[f.Alias] {
			return fmt.Errorf("duplicate folder alias %q", f.Alias)
		}
		seen[f.Alias] = true
	}
	return nil
}

// resolveFolders makes folder paths absolute and fills in missing aliases.
func (c *Config) resolveFolders() {
	for i := range c.Folders {
		absPath, err := filepath.Abs(c.Folders[i].Path)
		if err == nil {
			c.Folders[i].Path = absPath
		}
		if c.Folders[i].Alias == "" {
			c.Folders[i].Alias = filepath.Base(c.Folders[i].Path)
		}
	}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// AddFolder adds a new import folder with the given path, alias, git_ref, subPath and excludes
func (c *Config) AddFolder(path, alias, gitRef, subPath string, exclude []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	// Same path AND same git_ref AND same sub_path is a duplicate
	for _, f := range c.Folders {
		if f.Path == absPath && f.GitRef == gitRef && f.SubPath == subPath {
			return nil
		}
	}

	if alias == "" {
		alias = filepath.Base(absPath)
		if gitRef != "" {
			alias = alias + "@" + strings.ReplaceAll(gitRef, "/", "-")
		}
	}

	c.Folders = append(c.Folders, Folder{
		Path:    absPath,
		Alias:   alias,
		GitRef:  gitRef,
		SubPath: subPath,
		Exclude: exclude,
	})

	return nil
}

// IsFolderExcluded checks if a relative path should be excluded by folder-level excludes
func (c *Config) IsFolderExcluded(relPath string, folderExcludes []string) bool {
	if len(folderExcludes) == 0 {
		return false
	}
	for _, pattern := range folderExcludes {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		base := filepath.Base(relPath)
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		clean := filepath.Clean(pattern)
		if relPath == clean || strings.HasPrefix(relPath, clean+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// GetConfigFilePath returns the path to the config file, empty if none was loaded
func (c *Config) GetConfigFilePath() string {
	return c.configPath
}

// IsExcluded checks if a path should be excluded
func (c *Config) IsExcluded(path string) bool {
	base := filepath.Base(path)
	for _, exclude := range c.Exclude {
		if matched, _ := filepath.Match(exclude, base); matched {
			return true
		}
	}
	return false
}

// IsMarkdownFile checks if a file has a markdown extension
func (c *Config) IsMarkdownFile(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range c.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
