package domain

import (
	"encoding/json"
	"fmt"
)

// Criterion is the closed set of badge award rules. Each kind is its own struct.
type Criterion interface {
	Spec() CriterionSpec
	criterion()
}

// CriterionSpec is the storage and wire form of a Criterion.
type CriterionSpec struct {
	Type          string `json:"type"`
	Value         int    `json:"value"`
	SpecificLevel Level  `json:"specificLevel,omitempty"`
}

const (
	CriterionPointsEarned     = "points-earned"
	CriterionModulesCompleted = "modules-completed"
	CriterionLevelCompleted   = "level-completed"
	CriterionPerfectScore     = "perfect-score"
	CriterionFirstModule      = "first-module"
	CriterionAllModulesLevel  = "all-modules-level"
	CriterionSpeedCompletion  = "speed-completion"
	CriterionStreak           = "streak"
)

type PointsEarned struct{ Points int }

type ModulesCompleted struct{ Count int }

type LevelCompleted struct{ Level Level }

// PerfectScore with a Level requires a perfect score on every module of that tier.
// Without one it requires Count perfect scores anywhere.
type PerfectScore struct {
	Count int
	Level Level
}

type FirstModule struct{}

// AllModulesLevel is a completion percentage across the whole catalog.
type AllModulesLevel struct{ Percent int }

type SpeedCompletion struct{ Seconds int }

type Streak struct{ Days int }

func (c PointsEarned) Spec() CriterionSpec {
	return CriterionSpec{Type: CriterionPointsEarned, Value: c.Points}
}
func (c ModulesCompleted) Spec() CriterionSpec {
	return CriterionSpec{Type: CriterionModulesCompleted, Value: c.Count}
}
func (c LevelCompleted) Spec() CriterionSpec {
	return CriterionSpec{Type: CriterionLevelCompleted, SpecificLevel: c.Level}
}
func (c PerfectScore) Spec() CriterionSpec {
	return CriterionSpec{Type: CriterionPerfectScore, Value: c.Count, SpecificLevel: c.Level}
}
func (FirstModule) Spec() CriterionSpec { return CriterionSpec{Type: CriterionFirstModule, Value: 1} }
func (c AllModulesLevel) Spec() CriterionSpec {
	return CriterionSpec{Type: CriterionAllModulesLevel, Value: c.Percent}
}
func (c SpeedCompletion) Spec() CriterionSpec {
	return CriterionSpec{Type: CriterionSpeedCompletion, Value: c.Seconds}
}
func (c Streak) Spec() CriterionSpec { return CriterionSpec{Type: CriterionStreak, Value: c.Days} }

func (PointsEarned) criterion()     {}
func (ModulesCompleted) criterion() {}
func (LevelCompleted) criterion()   {}
func (PerfectScore) criterion()     {}
func (FirstModule) criterion()      {}
func (AllModulesLevel) criterion()  {}
func (SpeedCompletion) criterion()  {}
func (Streak) criterion()           {}

// ParseCriterion turns a stored criterion into its typed form. Unknown types are rejected.
func ParseCriterion(spec CriterionSpec) (Criterion, error) {
	if spec.SpecificLevel != "" && !spec.SpecificLevel.Valid() {
		return nil, fmt.Errorf("%w: level %q", ErrUnknownCriterion, spec.SpecificLevel)
	}
	switch spec.Type {
	case CriterionPointsEarned:
		return PointsEarned{Points: spec.Value}, nil
	case CriterionModulesCompleted:
		return ModulesCompleted{Count: spec.Value}, nil
	case CriterionLevelCompleted:
		if spec.SpecificLevel == "" {
			return nil, fmt.Errorf("%w: %s needs a level", ErrUnknownCriterion, spec.Type)
		}
		return LevelCompleted{Level: spec.SpecificLevel}, nil
	case CriterionPerfectScore:
		return PerfectScore{Count: spec.Value, Level: spec.SpecificLevel}, nil
	case CriterionFirstModule:
		return FirstModule{}, nil
	case CriterionAllModulesLevel:
		return AllModulesLevel{Percent: spec.Value}, nil
	case CriterionSpeedCompletion:
		return SpeedCompletion{Seconds: spec.Value}, nil
	case CriterionStreak:
		return Streak{Days: spec.Value}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCriterion, spec.Type)
}

// MarshalJSON exposes the criterion under "criteria".
func (b Badge) MarshalJSON() ([]byte, error) {
	type plain Badge
	var spec *CriterionSpec
	if b.Criterion != nil {
		s := b.Criterion.Spec()
		spec = &s
	}
	return json.Marshal(struct {
		plain
		Criteria *CriterionSpec `json:"criteria"`
	}{plain: plain(b), Criteria: spec})
}

func (b *Badge) UnmarshalJSON(data []byte) error {
	type plain Badge
	aux := struct {
		*plain
		Criteria *CriterionSpec `json:"criteria"`
	}{plain: (*plain)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Criteria == nil {
		b.Criterion = nil
		return nil
	}
	c, err := ParseCriterion(*aux.Criteria)
	if err != nil {
		return err
	}
	b.Criterion = c
	return nil
}
