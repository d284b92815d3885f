package edgar

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed filing_types.yaml
var filingTypesYAML []byte

type FilingType struct {
	Form        string `yaml:"form" json:"form"`
	Description string `yaml:"description" json:"description"`
}

var (
	catalogOnce sync.Once
	catalog     []FilingType
	catalogErr  error
)

// CommonFilingTypes lists the forms the service is tuned for.
func CommonFilingTypes() ([]FilingType, error) {
	catalogOnce.Do(func() {
		if err := yaml.Unmarshal(filingTypesYAML, &catalog); err != nil {
			catalogErr = fmt.Errorf("decode filing types: %w", err)
		}
	})
	if catalogErr != nil {
		return nil, catalogErr
	}
	out := make([]FilingType, len(catalog))
	copy(out, catalog)
	return out, nil
}
