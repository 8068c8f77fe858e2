package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Endpoints []types.EndpointRecord `yaml:"endpoints"`
}

// LoadSeed reads endpoint registrations from the first search path that holds name.
func LoadSeed(name string, searchPaths []string) ([]types.EndpointRecord, error) {
	var data []byte
	var foundPath string

	if filepath.IsAbs(name) {
		searchPaths = []string{""}
	}
	for _, searchPath := range searchPaths {
		fullPath := filepath.Join(searchPath, name)
		b, err := os.ReadFile(fullPath)
		if err == nil {
			data = b
			foundPath = fullPath
			break
		}
	}

	if data == nil {
		return nil, fmt.Errorf("seed file not found: %s (searched in: %v)", name, searchPaths)
	}

	records, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", foundPath, err)
	}
	return records, nil
}

// ParseSeed decodes a YAML document with a top-level endpoints list.
func ParseSeed(data []byte) ([]types.EndpointRecord, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "parse seed", err)
	}

	for i := range seed.Endpoints {
		seed.Endpoints[i].Normalize()
		if err := seed.Endpoints[i].Validate(); err != nil {
			return nil, fmt.Errorf("endpoint #%d: %w", i, err)
		}
	}
	return seed.Endpoints, nil
}
