package conformance

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestDir is where scenario manifests live relative to a caller
// that imports this package from its own test binary.
const ManifestDir = "testdata"

// LoadSuite reads and parses a single manifest file.
func LoadSuite(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("conformance: read %s: %w", path, err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Suite{}, fmt.Errorf("conformance: parse %s: %w", path, err)
	}
	return s, nil
}

// LoadSuitesFromDir walks dir for *.yaml files and parses each as a
// Suite, warning on and skipping files that fail to parse rather than
// aborting the whole load.
func LoadSuitesFromDir(dir string) ([]Suite, error) {
	var suites []Suite
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}
		s, err := LoadSuite(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "conformance: skipping %s: %v\n", path, err)
			return nil
		}
		suites = append(suites, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suites, nil
}
