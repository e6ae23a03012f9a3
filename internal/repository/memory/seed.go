package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/civicdesk/grievance-service/internal/domain"
)

type directoryFile struct {
	Workers []domain.Worker `yaml:"workers"`
}

// LoadDirectory reads a YAML worker directory:
//
//	workers:
//	  - id: w-1
//	    name: Asha Rao
//	    department: Sanitation
//	    created_at: 2024-01-02T15:04:05Z
func LoadDirectory(path string) ([]domain.Worker, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var file directoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse directory seed: %w", err)
	}
	for i, worker := range file.Workers {
		if worker.ID == "" {
			return nil, fmt.Errorf("directory seed: worker %d has no id", i)
		}
		file.Workers[i].Department = domain.NormalizeCategory(string(worker.Department))
	}
	return file.Workers, nil
}
