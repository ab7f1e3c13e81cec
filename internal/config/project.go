package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wolfeidau/devbundle/internal/webpack"
	"gopkg.in/yaml.v3"
)

// ProjectConfigFiles are looked up under the working directory in order.
var ProjectConfigFiles = []string{"webpack.config.yaml", "webpack.config.yml", "webpack.config.json"}

var ErrNoProjectConfig = errors.New("no project config file")

// LoadProjectConfig loads the first project config file found under cwd and
// returns it verbatim. When none exists it returns ErrNoProjectConfig, any
// other stat, read or parse failure is returned as is.
func LoadProjectConfig(cwd string) (*webpack.BuildConfiguration, string, error) {
	for _, name := range ProjectConfigFiles {
		path := filepath.Join(cwd, name)

		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, path, fmt.Errorf("failed to stat project config: %w", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("failed to read project config: %w", err)
		}

		unmarshal := yaml.Unmarshal
		if filepath.Ext(name) == ".json" {
			unmarshal = json.Unmarshal
		}

		var cfg webpack.BuildConfiguration
		if err := unmarshal(data, &cfg); err != nil {
			return nil, path, fmt.Errorf("failed to parse project config %s: %w", name, err)
		}
		return &cfg, path, nil
	}

	return nil, "", ErrNoProjectConfig
}
