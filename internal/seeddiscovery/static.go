// Package seeddiscovery produces the seed list a topology is
// constructed with, as an optional pre-step: a static YAML file, the
// local Docker daemon's labeled containers, or a Kubernetes Service's
// ready Endpoints.
package seeddiscovery

import (
	"fmt"
	"os"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
	"gopkg.in/yaml.v3"
)

// staticFile is the on-disk shape of a seeds.yaml file: a flat list of
// host/port pairs, the zero-infrastructure discovery mode.
type staticFile struct {
	Seeds []struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"seeds"`
}

// LoadStatic reads a YAML file of "seeds: [{host, port}, ...]" entries.
// This is the degenerate provider: no polling, no external service, a
// fixed list read once at startup.
func LoadStatic(path string) ([]proxyhandle.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seeddiscovery: read %s: %w", path, err)
	}

	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seeddiscovery: parse %s: %w", path, err)
	}

	seeds := make([]proxyhandle.Seed, 0, len(f.Seeds))
	for _, s := range f.Seeds {
		if s.Host == "" || s.Port == 0 {
			continue
		}
		seeds = append(seeds, proxyhandle.Seed{Host: s.Host, Port: s.Port})
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seeddiscovery: %s contains no usable seeds", path)
	}
	return seeds, nil
}
