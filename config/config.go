package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Defaults Defaults           `yaml:"defaults"`
	Backends map[string]Backend `yaml:"backends"`
	Scoring  Scoring            `yaml:"scoring"`
	Lexicon  Lexicon            `yaml:"lexicon"`
}

type Defaults struct {
	ConfidenceFloor     float64 `yaml:"confidence_floor"`
	MaxFallbackAttempts int     `yaml:"max_fallback_attempts"`
	ConsensusFanout     int     `yaml:"consensus_fanout"`
	FailureThreshold    int     `yaml:"failure_threshold"`
	LatencyAlpha        float64 `yaml:"latency_alpha"`
	HistorySize         int     `yaml:"history_size"`
}

type Backend struct {
	Provider       string             `yaml:"provider"`
	APIModel       string             `yaml:"api_model"`
	BaseURL        string             `yaml:"base_url,omitempty"`
	Strengths      map[string]float64 `yaml:"strengths"`
	MaxInputTokens int                `yaml:"max_input_tokens"`
	AvgLatencyMs   int                `yaml:"avg_latency_ms"`
	PromptSuffix   *string            `yaml:"prompt_suffix"`
}

type Scoring struct {
	TightDeadlineMs   int                `yaml:"tight_deadline_ms"`
	RelaxedSpeed      float64            `yaml:"relaxed_speed_relevance"`
	BaseCultural      float64            `yaml:"base_cultural_relevance"`
	StructuredDefault float64            `yaml:"structured_default_relevance"`
	CostRelevance     map[string]float64 `yaml:"cost_relevance"`
	ScoreMin          float64            `yaml:"score_min"`
	ScoreMax          float64            `yaml:"score_max"`
	OutlierK          float64            `yaml:"outlier_k"`
}

type Lexicon struct {
	Regions       map[string][]string `yaml:"regions"`
	ClauseMarkers []string            `yaml:"clause_markers"`
}

// Load reads the three YAML config files from configDir and merges them into
// a single Config. configDir should be the directory that contains
// backends.yaml, scoring.yaml, and lexicon.yaml.
func Load(configDir string) (*Config, error) {
	cfg := &Config{}

	// backends.yaml holds defaults and the backend catalogue at top level.
	backendsFile := filepath.Join(configDir, "backends.yaml")
	if err := loadYAML(backendsFile, cfg); err != nil {
		return nil, fmt.Errorf("loading backends.yaml: %w", err)
	}

	// scoring.yaml wraps its entries under a "scoring" key.
	var scoringWrapper struct {
		Scoring Scoring `yaml:"scoring"`
	}
	scoringFile := filepath.Join(configDir, "scoring.yaml")
	if err := loadYAML(scoringFile, &scoringWrapper); err != nil {
		return nil, fmt.Errorf("loading scoring.yaml: %w", err)
	}
	cfg.Scoring = scoringWrapper.Scoring

	// lexicon.yaml wraps its entries under a "lexicon" key.
	var lexWrapper struct {
		Lexicon Lexicon `yaml:"lexicon"`
	}
	lexFile := filepath.Join(configDir, "lexicon.yaml")
	if err := loadYAML(lexFile, &lexWrapper); err != nil {
		return nil, fmt.Errorf("loading lexicon.yaml: %w", err)
	}
	cfg.Lexicon = lexWrapper.Lexicon

	applyDefaults(cfg)
	return cfg, nil
}

func loadYAML(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}

// applyDefaults fills any zero-valued engine setting with its documented
// default so a minimal backends.yaml still yields a working engine.
func applyDefaults(cfg *Config) {
	d := &cfg.Defaults
	if d.ConfidenceFloor <= 0 {
		d.ConfidenceFloor = 0.3
	}
	if d.MaxFallbackAttempts <= 0 {
		d.MaxFallbackAttempts = 3
	}
	if d.ConsensusFanout <= 0 {
		d.ConsensusFanout = 3
	}
	if d.FailureThreshold <= 0 {
		d.FailureThreshold = 3
	}
	if d.LatencyAlpha <= 0 {
		d.LatencyAlpha = 0.2
	}
	if d.HistorySize <= 0 {
		d.HistorySize = 100
	}

	s := &cfg.Scoring
	if s.TightDeadlineMs <= 0 {
		s.TightDeadlineMs = 2000
	}
	if s.RelaxedSpeed <= 0 {
		s.RelaxedSpeed = 0.4
	}
	if s.BaseCultural <= 0 {
		s.BaseCultural = 0.3
	}
	if s.StructuredDefault <= 0 {
		s.StructuredDefault = 0.6
	}
	if len(s.CostRelevance) == 0 {
		s.CostRelevance = map[string]float64{"low": 0.2, "medium": 0.6, "high": 1.0}
	}
	if s.ScoreMin == 0 && s.ScoreMax == 0 {
		s.ScoreMin, s.ScoreMax = -1.0, 1.0
	}
	if s.OutlierK <= 0 {
		s.OutlierK = 1.5
	}
}

// GetBackend returns the backend entry for name, or false if it is not in
// the catalogue.
func (c *Config) GetBackend(name string) (Backend, bool) {
	b, ok := c.Backends[name]
	return b, ok
}
