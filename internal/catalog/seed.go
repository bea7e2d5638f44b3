package catalog

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/digkill/IMEICheckBot/internal/models"
)

type seedFile struct {
	Services []seedService `yaml:"services"`
}

type seedService struct {
	ID       int64  `yaml:"id"`
	Title    string `yaml:"title"`
	Price    string `yaml:"price"`
	Category string `yaml:"category"`
}

// LoadSeed reads the initial service list from a YAML file.
func LoadSeed(path string) ([]models.Service, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) ([]models.Service, error) {
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	services := make([]models.Service, 0, len(file.Services))
	for _, s := range file.Services {
		price, err := decimal.NewFromString(s.Price)
		if err != nil {
			return nil, fmt.Errorf("service %d: parse price %q: %w", s.ID, s.Price, err)
		}
		services = append(services, models.Service{
			ID:       s.ID,
			Title:    s.Title,
			Price:    price,
			Category: s.Category,
		})
	}
	return services, nil
}
