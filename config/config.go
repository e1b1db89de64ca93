// Package config loads grove-memory configuration.
//
// Layers, lowest precedence first:
//  1. built-in defaults
//  2. global config ($XDG_CONFIG_HOME/grove/memory.yml or memory.toml)
//  3. project config (<root>/config.yml, config.yaml or config.toml)
//  4. GROVE_MEMORY_* environment variables
//
// Each file layer only overwrites the keys it sets.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/util/pathutil"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a single configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFileInto(cfg, path); err != nil {
		return nil, err
	}
	return finish(cfg, filepath.Dir(path))
}

// LoadFrom loads the layered configuration for a project directory.
func LoadFrom(projectDir string) (*Config, error) {
	return LoadFromWithLogger(projectDir, logrus.New())
}

// LoadFromWithLogger loads the layered configuration and logs every layer it applies.
func LoadFromWithLogger(projectDir string, logger *logrus.Logger) (*Config, error) {
	cfg := &Config{}

	for _, path := range LayerFiles(projectDir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		logger.WithField("path", path).Debug("Loading memory configuration layer")
		if err := decodeFileInto(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	finalConfig, err := finish(cfg, projectDir)
	if err != nil {
		return nil, err
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if data, err := yaml.Marshal(redacted(finalConfig)); err == nil {
			logger.Debugf("Merged configuration:\n%s", string(data))
		}
	}
	return finalConfig, nil
}

// LayerFiles returns candidate configuration files in the order they are applied.
// The project files live under the memory root, which GROVE_MEMORY_ROOT may relocate.
func LayerFiles(projectDir string) []string {
	var files []string
	if global := paths.GlobalConfigFile(); global != "" {
		files = append(files, global, strings.TrimSuffix(global, ".yml")+".toml")
	}
	root := paths.Root(projectDir)
	files = append(files,
		filepath.Join(root, "config.yml"),
		filepath.Join(root, "config.yaml"),
		filepath.Join(root, "config.toml"),
	)
	return files
}

// LoadFromBytes parses YAML configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decodeInto(cfg, data, "yaml", "<bytes>"); err != nil {
		return nil, err
	}
	cwd, _ := os.Getwd()
	return finish(cfg, cwd)
}

func decodeFileInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ConfigNotFound(path)
		}
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	format := "yaml"
	if strings.HasSuffix(path, ".toml") {
		format = "toml"
	}
	return decodeInto(cfg, data, format, path)
}

func decodeInto(cfg *Config, data []byte, format, path string) error {
	expanded := []byte(expandEnvVars(string(data)))

	switch format {
	case "toml":
		if err := toml.Unmarshal(expanded, cfg); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML config").
				WithDetail("path", path)
		}
		// TOML has no inline maps; collect unknown sections as extensions.
		var raw map[string]interface{}
		if err := toml.NewDecoder(bytes.NewReader(expanded)).Decode(&raw); err == nil {
			for key, value := range raw {
				if knownSections[key] {
					continue
				}
				if cfg.Extensions == nil {
					cfg.Extensions = make(map[string]interface{})
				}
				cfg.Extensions[key] = value
			}
		}
	default:
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML config").
				WithDetail("path", path)
		}
	}
	return nil
}

func finish(cfg *Config, projectDir string) (*Config, error) {
	cfg.SetDefaults()

	if cfg.Root == "" {
		cfg.Root = paths.Root(projectDir)
	} else {
		root, err := pathutil.ExpandRelative(cfg.Root, projectDir)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to expand root").
				WithDetail("root", cfg.Root)
		}
		cfg.Root = root
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays GROVE_MEMORY_* variables.
func applyEnv(cfg *Config) {
	overlay := map[string]*string{
		"GROVE_MEMORY_PROJECT":        &cfg.Project,
		"GROVE_MEMORY_AGENT":          &cfg.Agent,
		"GROVE_MEMORY_REMOTE_URL":     &cfg.Remote.URL,
		"GROVE_MEMORY_REMOTE_KEY":     &cfg.Remote.APIKey,
		"GROVE_MEMORY_EMBEDDING_KEY":  &cfg.Embedding.APIKey,
		"GROVE_MEMORY_EMBEDDING_URL":  &cfg.Embedding.BaseURL,
		"GROVE_MEMORY_EMBEDDING_TYPE": &cfg.Embedding.Provider,
	}
	for name, target := range overlay {
		if value := os.Getenv(name); value != "" {
			*target = value
		}
	}
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// redacted returns a copy safe for logging.
func redacted(cfg *Config) *Config {
	c := *cfg
	if c.Remote.APIKey != "" {
		c.Remote.APIKey = "<redacted>"
	}
	if c.Embedding.APIKey != "" {
		c.Embedding.APIKey = "<redacted>"
	}
	return &c
}

// Redacted returns a copy of cfg with secrets masked, for display.
func (c *Config) Redacted() *Config {
	return redacted(c)
}
