package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Server is one named gateway endpoint in the client config.
type Server struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Config is the client configuration file.
type Config struct {
	Servers []Server `yaml:"servers"`
}

// DefaultConfigPath returns the config location in the user's home.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".remote-ai-ide.yaml"
	}
	return filepath.Join(home, ".remote-ai-ide.yaml")
}

// LoadConfig reads the config, writing a default one on first use.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			if writeErr := SaveConfig(path, cfg); writeErr == nil {
				fmt.Fprintf(os.Stderr, "Created default config at %s\n", path)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the config with owner-only permissions; it holds
// tokens.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// FindServer looks a server up by name.
func (c *Config) FindServer(name string) (*Server, error) {
	for i := range c.Servers {
		if c.Servers[i].Name == name {
			return &c.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server %q not found in config", name)
}

func defaultConfig() *Config {
	return &Config{
		Servers: []Server{
			{Name: "local", URL: "http://localhost:3002", Token: ""},
		},
	}
}
