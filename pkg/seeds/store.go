package seeds

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"liverseg/internal/models"
)

type seedFile struct {
	Seeds []models.Seed `yaml:"seeds"`
}

// SaveSeeds writes seeds to a YAML file.
func SaveSeeds(path string, seeds []models.Seed) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "error creating seed directory")
	}

	data, err := yaml.Marshal(seedFile{Seeds: seeds})
	if err != nil {
		return errors.Wrap(err, "error marshaling seeds")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "error writing seed file")
	}
	return nil
}

// LoadSeeds reads seeds written by SaveSeeds.
func LoadSeeds(path string) ([]models.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading seed file")
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "error parsing seed file %s", path)
	}
	return f.Seeds, nil
}
