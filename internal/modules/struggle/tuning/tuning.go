package tuning

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/decision"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/prediction"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/scoring"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

const tuningEnv = "STRUGGLE_TUNING_YAML"

//go:embed struggle.yaml
var tuningFS embed.FS

type Tuning struct {
	Version    int               `yaml:"version"`
	Scoring    scoring.Config    `yaml:"scoring"`
	Prediction prediction.Config `yaml:"prediction"`
	Decision   decision.Config   `yaml:"decision"`
}

func Defaults() Tuning {
	return Tuning{
		Version:    1,
		Scoring:    scoring.DefaultConfig(),
		Prediction: prediction.DefaultConfig(),
		Decision:   decision.DefaultConfig(),
	}
}

func (t Tuning) Validate() error {
	return errors.Join(t.Scoring.Validate(), t.Prediction.Validate(), t.Decision.Validate())
}

// Load reads the override file when STRUGGLE_TUNING_YAML is set, otherwise the
// embedded defaults. Invalid input falls back to compiled defaults.
func Load(log *logger.Logger) Tuning {
	t, err := load()
	if err != nil {
		if log != nil {
			log.Warn("struggle tuning load failed; using defaults", "error", err)
		}
		return Defaults()
	}
	return t
}

func load() (Tuning, error) {
	data, err := readTuning()
	if err != nil {
		return Tuning{}, err
	}
	return Parse(data)
}

// Parse overlays data on the compiled defaults and validates the result.
func Parse(data []byte) (Tuning, error) {
	t := Defaults()
	// tier lists replace rather than merge
	t.Scoring.HoverTiers, t.Scoring.IdleTiers = nil, nil
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning: %w", err)
	}
	def := scoring.DefaultConfig()
	if len(t.Scoring.HoverTiers) == 0 {
		t.Scoring.HoverTiers = def.HoverTiers
	}
	if len(t.Scoring.IdleTiers) == 0 {
		t.Scoring.IdleTiers = def.IdleTiers
	}
	if t.Version != 1 {
		return Tuning{}, fmt.Errorf("unsupported tuning version %d", t.Version)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func readTuning() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(tuningEnv)); path != "" {
		return os.ReadFile(path)
	}
	return tuningFS.ReadFile("struggle.yaml")
}
