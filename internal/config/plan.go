package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan is the optional YAML interview plan. It overrides the env-configured
// guardrails and tunes the interviewer persona without a rebuild.
type Plan struct {
	Persona PlanPersona          `yaml:"persona"`
	Stages  map[string]PlanStage `yaml:"stages"`
}

type PlanPersona struct {
	Name  string `yaml:"name"`
	Style string `yaml:"style"`
}

type PlanStage struct {
	MaxTurns       int    `yaml:"max_turns"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Focus          string `yaml:"focus"`
}

// LoadPlan parses the plan file at path. An empty path returns a zero Plan.
func LoadPlan(path string) (Plan, error) {
	if path == "" {
		return Plan{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan file: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan file %s: %w", path, err)
	}
	for name, stage := range plan.Stages {
		switch name {
		case "intro", "experience":
		default:
			return Plan{}, fmt.Errorf("plan file %s: unknown stage %q", path, name)
		}
		if stage.MaxTurns < 0 || stage.TimeoutSeconds < 0 {
			return Plan{}, fmt.Errorf("plan file %s: stage %q has negative limits", path, name)
		}
	}
	return plan, nil
}

// Apply merges the plan's per-stage overrides into the config. Zero plan
// values leave the config untouched.
func (p Plan) Apply(cfg *Config) {
	if stage, ok := p.Stages["intro"]; ok {
		if stage.MaxTurns > 0 {
			cfg.MaxIntroTurns = stage.MaxTurns
		}
		if stage.TimeoutSeconds > 0 {
			cfg.IntroTimeout = time.Duration(stage.TimeoutSeconds) * time.Second
		}
	}
	if stage, ok := p.Stages["experience"]; ok {
		if stage.MaxTurns > 0 {
			cfg.MaxExperienceTurns = stage.MaxTurns
		}
		if stage.TimeoutSeconds > 0 {
			cfg.ExperienceTimeout = time.Duration(stage.TimeoutSeconds) * time.Second
		}
	}
}
