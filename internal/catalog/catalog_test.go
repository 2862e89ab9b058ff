package catalog

import (
	"errors"
	"testing"

	"cyberguard-progress-service/internal/domain"
)

func TestSampleModulesAreGradable(t *testing.T) {
	mods, err := SampleModules()
	if err != nil {
		t.Fatalf("sample modules: %v", err)
	}
	perLevel := map[domain.Level]int{}
	for _, m := range mods {
		perLevel[m.Level]++
		if !m.IsActive {
			t.Fatalf("expected sample module %s active", m.ID)
		}
	}
	for _, l := range domain.Levels {
		if perLevel[l] == 0 {
			t.Fatalf("expected modules at level %s", l)
		}
	}
}

func TestDefaultBadgesRoundTripCriteria(t *testing.T) {
	seen := map[string]bool{}
	for _, b := range DefaultBadges() {
		if seen[b.ID] {
			t.Fatalf("duplicate badge %s", b.ID)
		}
		seen[b.ID] = true
		parsed, err := domain.ParseCriterion(b.Criterion.Spec())
		if err != nil {
			t.Fatalf("badge %s: %v", b.ID, err)
		}
		if parsed.Spec() != b.Criterion.Spec() {
			t.Fatalf("badge %s: spec changed %+v -> %+v", b.ID, b.Criterion.Spec(), parsed.Spec())
		}
	}
	if len(seen) != 18 {
		t.Fatalf("expected 18 default badges, got %d", len(seen))
	}
}

func TestCheckRejectsCorruptModule(t *testing.T) {
	m := domain.Module{ID: "x", Level: domain.LevelBeginner, Questions: []domain.Question{
		{ID: "a", Options: []string{"1", "2"}, CorrectAnswer: 0},
		{ID: "b", Options: []string{"1", "2"}, CorrectAnswer: 5},
		{ID: "c", Options: []string{"1", "2"}, CorrectAnswer: 1},
	}}
	if err := Check(m); !errors.Is(err, domain.ErrCorruptModule) {
		t.Fatalf("expected corrupt module, got %v", err)
	}
}
