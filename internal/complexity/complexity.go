// Package complexity scores interview context and candidate responses into
// tiers and maps each tier to a reasoning strategy.
package complexity

import "strings"

// Tier is a coarse difficulty bucket.
type Tier string

const (
	Low      Tier = "low"
	Medium   Tier = "medium"
	High     Tier = "high"
	VeryHigh Tier = "very_high"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case Low, Medium, High, VeryHigh:
		return true
	}
	return false
}

// Strategy is the reasoning approach collaborators are asked to use.
type Strategy string

const (
	Lean           Strategy = "lean"
	ChainOfThought Strategy = "chain_of_thought"
	StepBack       Strategy = "step_back"
	SelfReflection Strategy = "self_reflection"
)

// SelectStrategy maps a tier to its strategy. Unknown tiers get chain-of-thought.
func SelectStrategy(t Tier) Strategy {
	switch t {
	case Low:
		return Lean
	case High:
		return StepBack
	case VeryHigh:
		return SelfReflection
	default:
		return ChainOfThought
	}
}

// Context describes the interview being conducted.
type Context struct {
	InterviewType  string         `json:"interview_type"`
	Level          string         `json:"level"`
	JobTitle       string         `json:"job_title,omitempty"`
	JobDescription string         `json:"job_description,omitempty"`
	TargetSkills   []string       `json:"target_skills,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	out.TargetSkills = append([]string(nil), c.TargetSkills...)
	if c.Attributes != nil {
		out.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Config holds weights and thresholds for assessment.
type Config struct {
	DomainWeights map[string]float64
	LevelWeights  map[string]float64

	// Initial score bucket upper bounds (inclusive).
	LowMax    float64
	MediumMax float64
	HighMax   float64

	// Response thresholds, in words.
	MediumWords   int
	HighWords     int
	VeryHighWords int

	// VeryHighMarkers is the number of distinct markers needed for VeryHigh.
	VeryHighMarkers  int
	TechnicalMarkers []string
}

// DefaultConfig returns the standard weights and thresholds.
func DefaultConfig() Config {
	return Config{
		DomainWeights: map[string]float64{
			"data structures & algorithms": 1.0,
			"technical system design":      1.2,
			"system design":                1.2,
			"machine learning":             1.1,
			"product sense":                0.9,
			"behavioral":                   0.8,
		},
		LevelWeights: map[string]float64{
			"l3":  0.8,
			"l4":  1.0,
			"l5":  1.2,
			"l6":  1.4,
			"l7":  1.6,
			"l7+": 1.6,
		},
		LowMax:          0.9,
		MediumMax:       1.2,
		HighMax:         1.6,
		MediumWords:     100,
		HighWords:       200,
		VeryHighWords:   400,
		VeryHighMarkers: 3,
		TechnicalMarkers: []string{
			"architecture", "scalability", "microservices", "distributed",
			"algorithm", "optimization", "trade-offs", "constraints",
		},
	}
}

// Assessor computes tiers. It is pure and safe for concurrent use.
type Assessor struct {
	cfg     Config
	domain  map[string]float64
	level   map[string]float64
	markers []string
}

// NewAssessor returns an assessor for cfg. Zero thresholds fall back to defaults.
func NewAssessor(cfg Config) *Assessor {
	def := DefaultConfig()
	if cfg.DomainWeights == nil {
		cfg.DomainWeights = def.DomainWeights
	}
	if cfg.LevelWeights == nil {
		cfg.LevelWeights = def.LevelWeights
	}
	if cfg.LowMax == 0 {
		cfg.LowMax = def.LowMax
	}
	if cfg.MediumMax == 0 {
		cfg.MediumMax = def.MediumMax
	}
	if cfg.HighMax == 0 {
		cfg.HighMax = def.HighMax
	}
	if cfg.MediumWords == 0 {
		cfg.MediumWords = def.MediumWords
	}
	if cfg.HighWords == 0 {
		cfg.HighWords = def.HighWords
	}
	if cfg.VeryHighWords == 0 {
		cfg.VeryHighWords = def.VeryHighWords
	}
	if cfg.VeryHighMarkers == 0 {
		cfg.VeryHighMarkers = def.VeryHighMarkers
	}
	if len(cfg.TechnicalMarkers) == 0 {
		cfg.TechnicalMarkers = def.TechnicalMarkers
	}

	a := &Assessor{
		cfg:    cfg,
		domain: lowerKeys(cfg.DomainWeights),
		level:  lowerKeys(cfg.LevelWeights),
	}
	for _, m := range cfg.TechnicalMarkers {
		a.markers = append(a.markers, strings.ToLower(m))
	}
	return a
}

// Score returns domain weight times level weight. Unknown values weigh 1.0.
func (a *Assessor) Score(c Context) float64 {
	return weight(a.domain, c.InterviewType) * weight(a.level, c.Level)
}

// AssessInitial buckets the interview context into a tier.
func (a *Assessor) AssessInitial(c Context) Tier {
	score := a.Score(c)
	switch {
	case score <= a.cfg.LowMax:
		return Low
	case score <= a.cfg.MediumMax:
		return Medium
	case score <= a.cfg.HighMax:
		return High
	default:
		return VeryHigh
	}
}

// AssessResponse buckets a single utterance by length and technical vocabulary.
func (a *Assessor) AssessResponse(utterance string) Tier {
	words := len(strings.Fields(utterance))
	markers := a.countMarkers(utterance)

	switch {
	case words > a.cfg.VeryHighWords && markers >= a.cfg.VeryHighMarkers:
		return VeryHigh
	case words > a.cfg.HighWords && markers > 0:
		return High
	case words > a.cfg.MediumWords || markers > 0:
		return Medium
	default:
		return Low
	}
}

func (a *Assessor) countMarkers(utterance string) int {
	text := strings.ToLower(utterance)
	n := 0
	for _, m := range a.markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}

func weight(weights map[string]float64, key string) float64 {
	if w, ok := weights[strings.ToLower(strings.TrimSpace(key))]; ok {
		return w
	}
	return 1.0
}

func lowerKeys(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
