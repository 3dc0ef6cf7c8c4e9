package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/moor/internal/domain"
)

// servicesFile is the YAML schema of the descriptor file.
type servicesFile struct {
	Services []serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	Name               string   `yaml:"name"`
	Port               int      `yaml:"port"`
	Command            []string `yaml:"command"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	Critical           bool     `yaml:"critical"`
	Autostart          bool     `yaml:"autostart"`
}

// LoadServices reads and validates the static service descriptor list.
func LoadServices(path string) ([]domain.ServiceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}

	var f servicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse services yaml: %w", err)
	}

	seen := make(map[string]bool, len(f.Services))
	descs := make([]domain.ServiceDescriptor, 0, len(f.Services))
	for i, e := range f.Services {
		if e.Name == "" {
			return nil, fmt.Errorf("service #%d has no name", i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate service name %q", e.Name)
		}
		seen[e.Name] = true

		if len(e.Command) == 0 {
			return nil, fmt.Errorf("service %q has no command", e.Name)
		}
		if e.Port < 1024 || e.Port > 65535 {
			return nil, fmt.Errorf("service %q has invalid port %d", e.Name, e.Port)
		}
		if e.RateLimitPerMinute < 0 {
			return nil, fmt.Errorf("service %q has negative rate limit", e.Name)
		}

		descs = append(descs, domain.ServiceDescriptor{
			Name:               e.Name,
			DesiredPort:        e.Port,
			Command:            e.Command,
			RateLimitPerMinute: e.RateLimitPerMinute,
			Critical:           e.Critical,
			Autostart:          e.Autostart,
		})
	}
	return descs, nil
}
