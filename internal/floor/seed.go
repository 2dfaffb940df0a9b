package floor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"table-service/internal/models"
)

type seedFile struct {
	Tables []models.TableSeed `yaml:"tables"`
}

// LoadSeeds reads the tables to provision at startup. A missing file yields
// no seeds.
func LoadSeeds(path string) ([]models.TableSeed, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table seeds: %w", err)
	}
	return ParseSeeds(data)
}

func ParseSeeds(data []byte) ([]models.TableSeed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse table seeds: %w", err)
	}
	seen := make(map[string]bool, len(f.Tables))
	for i, s := range f.Tables {
		if s.ID == "" || s.Number == "" {
			return nil, fmt.Errorf("table seed %d needs an id and a number", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("table %s is seeded twice", s.ID)
		}
		seen[s.ID] = true
	}
	return f.Tables, nil
}
