package catalog

import (
	_ "embed"
	"fmt"

	"cyberguard-progress-service/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed modules.yaml
var modulesYAML []byte

// SampleModules parses the embedded demo catalog and checks each module is gradable.
func SampleModules() ([]domain.Module, error) {
	var doc struct {
		Modules []domain.Module `yaml:"modules"`
	}
	if err := yaml.Unmarshal(modulesYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse sample modules: %w", err)
	}
	for _, m := range doc.Modules {
		if err := Check(m); err != nil {
			return nil, err
		}
	}
	return doc.Modules, nil
}

// Check rejects modules the grader could not score.
func Check(m domain.Module) error {
	if m.ID == "" || !m.Level.Valid() {
		return fmt.Errorf("%w: module %q has level %q", domain.ErrCorruptModule, m.ID, m.Level)
	}
	if len(m.Questions) < 3 {
		return fmt.Errorf("%w: module %s has %d questions", domain.ErrCorruptModule, m.ID, len(m.Questions))
	}
	seen := make(map[string]bool, len(m.Questions))
	for _, q := range m.Questions {
		if seen[q.ID] {
			return fmt.Errorf("%w: module %s repeats question %s", domain.ErrCorruptModule, m.ID, q.ID)
		}
		seen[q.ID] = true
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return fmt.Errorf("%w: module %s question %s", domain.ErrCorruptModule, m.ID, q.ID)
		}
	}
	return nil
}
