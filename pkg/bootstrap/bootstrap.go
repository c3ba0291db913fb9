// Package bootstrap loads the demo binary's startup parameters from a
// YAML file, once, at process start.
package bootstrap

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Config holds everything needed to open an apolloclient.Client and
// stand up the demo's internal HTTP server.
type Config struct {
	MetaServers  []string `yaml:"metaServers"`
	AppID        string   `yaml:"appId"`
	Cluster      string   `yaml:"cluster"`
	Secret       string   `yaml:"secret"`
	Namespaces   []string `yaml:"namespaces"`
	InternalPort int      `yaml:"internalPort"`
}

// Load reads and validates a bootstrap file at path off fs.
func Load(fs afero.Fs, path string) (Config, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("bootstrap: parse %s: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("bootstrap: %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.MetaServers) == 0 {
		return fmt.Errorf("missing metaServers")
	}
	if cfg.AppID == "" {
		return fmt.Errorf("missing appId")
	}
	if cfg.Cluster == "" {
		cfg.Cluster = "default"
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = []string{"application"}
	}
	if cfg.InternalPort == 0 {
		cfg.InternalPort = 9090
	}
	return nil
}

// Merge overlays any non-empty flag-supplied overrides onto cfg,
// giving command-line flags priority over the bootstrap file the way
// the teacher's flags take priority over env-sourced config.
func Merge(cfg Config, metaServers, namespaces []string, appID, cluster, secret string, internalPort int) Config {
	if len(metaServers) > 0 {
		cfg.MetaServers = metaServers
	}
	if len(namespaces) > 0 {
		cfg.Namespaces = namespaces
	}
	if appID != "" {
		cfg.AppID = appID
	}
	if cluster != "" {
		cfg.Cluster = cluster
	}
	if secret != "" {
		cfg.Secret = secret
	}
	if internalPort != 0 {
		cfg.InternalPort = internalPort
	}
	return cfg
}
