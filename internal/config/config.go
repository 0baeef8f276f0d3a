// Package config loads the YAML run configuration. A file overlays the
// embedded defaults, a few L2G_* environment variables override the result,
// and the merged value is validated before any engine value is built from it.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"l2g/internal/dna"
	"l2g/internal/evo"
	"l2g/internal/fitness"
	"l2g/internal/protocol"
	"l2g/internal/sim"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const (
	EnvSeed           = "L2G_SEED"
	EnvNumGenerations = "L2G_NUM_GENERATIONS"
	EnvWorkers        = "L2G_WORKERS"
	EnvOutputDir      = "L2G_OUTPUT_DIR"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Seed                   uint64 `yaml:"seed"`
	Workers                int    `yaml:"workers" validate:"gte=0"`
	OutputDir              string `yaml:"output_dir"`
	NumGenerations         int    `yaml:"num_generations" validate:"gte=0"`
	SurvivorsPerGeneration int    `yaml:"survivors_per_generation" validate:"gt=0"`
	ChildrenPerSurvivor    int    `yaml:"children_per_survivor" validate:"gt=0"`
	PlotCandidates         bool   `yaml:"plot_candidates"`

	Strategy       string  `yaml:"strategy" validate:"oneof=timenet fll fll_temp_only microstate"`
	MutationFactor float64 `yaml:"mutation_factor" validate:"gte=0"`
	NumLayers      int     `yaml:"num_layers" validate:"gt=0"`
	NumPhases      int     `yaml:"num_phases" validate:"gt=0"`
	HiddenSize     int     `yaml:"hidden_size" validate:"gt=0"`

	Baseline BaselineConfig `yaml:"baseline"`
	Fitness  fitness.Func   `yaml:"fitness"`
	Sim      sim.Params     `yaml:"sim"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BaselineConfig is a flat baseline protocol.
type BaselineConfig struct {
	InteractionEnergy float64 `yaml:"interaction_energy"`
	ChemicalPotential float64 `yaml:"chemical_potential"`
	NumMegasteps      int     `yaml:"num_megasteps" validate:"gt=0"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" validate:"omitempty,oneof=memory sqlite badger"`
	Path string `yaml:"path" validate:"required_if=Kind sqlite"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

// MetricsConfig enables a Prometheus scrape endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Default returns the embedded defaults.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	return cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path loads the defaults alone.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := overlay(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse overlays data on the defaults and validates without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := overlay(&cfg, data); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvSeed); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvSeed, v, err)
		}
		c.Seed = seed
	}
	if v, ok := lookup(EnvNumGenerations); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvNumGenerations, v, err)
		}
		c.NumGenerations = n
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvWorkers, v, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvOutputDir); ok {
		c.OutputDir = v
	}
	return nil
}

// Validate runs the struct-tag rules and then the checks that span fields or
// need the domain constructors.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("%w: sim: %v", ErrInvalid, err)
	}
	if _, err := fitness.New(c.Fitness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	kind, err := dna.ParseKind(c.Strategy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if (kind == dna.KindFixedLengthLinear || kind == dna.KindFixedLengthLinearTempOnly) &&
		c.Baseline.NumMegasteps%c.NumPhases != 0 {
		return fmt.Errorf("%w: baseline.num_megasteps=%d is not divisible by num_phases=%d",
			ErrInvalid, c.Baseline.NumMegasteps, c.NumPhases)
	}
	return nil
}

func (c Config) GenerationSize() int {
	return c.SurvivorsPerGeneration * c.ChildrenPerSurvivor
}

func (c Config) BaselineProtocol() protocol.Synthesis {
	return protocol.Flat(c.Baseline.ChemicalPotential, c.Baseline.InteractionEnergy, c.Baseline.NumMegasteps)
}

// Genome builds the initial genome for the configured strategy. Every
// variant is seeded from Seed.
func (c Config) Genome() (dna.Dna, error) {
	kind, err := dna.ParseKind(c.Strategy)
	if err != nil {
		return dna.Dna{}, err
	}
	baseline := c.BaselineProtocol()
	switch kind {
	case dna.KindTimeNet:
		return dna.NewTimeNet(c.Seed, c.NumLayers, c.MutationFactor, baseline)
	case dna.KindFixedLengthLinear:
		return dna.NewFixedLengthLinear(c.Seed, c.NumPhases, c.MutationFactor, baseline)
	case dna.KindFixedLengthLinearTempOnly:
		return dna.NewFixedLengthLinearTempOnly(c.Seed, c.NumPhases, c.MutationFactor, baseline)
	default:
		return dna.NewMicroState(c.Seed, sim.MaxPatches+1, c.HiddenSize, c.MutationFactor, baseline)
	}
}

func (c Config) FitnessFunc() (fitness.Func, error) {
	return fitness.New(c.Fitness)
}

// EngineConfig assembles an evo.Config around simulator. Observers are
// attached by the caller.
func (c Config) EngineConfig(simulator sim.Simulator, logger logrus.FieldLogger) (evo.Config, error) {
	genome, err := c.Genome()
	if err != nil {
		return evo.Config{}, fmt.Errorf("initial genome: %w", err)
	}
	fit, err := c.FitnessFunc()
	if err != nil {
		return evo.Config{}, err
	}
	return evo.Config{
		Seed:                   c.Seed,
		Params:                 c.Sim,
		Initial:                genome,
		Fitness:                fit,
		Simulator:              simulator,
		NumGenerations:         c.NumGenerations,
		SurvivorsPerGeneration: c.SurvivorsPerGeneration,
		ChildrenPerSurvivor:    c.ChildrenPerSurvivor,
		Workers:                c.Workers,
		Logger:                 logger,
	}, nil
}

// Marshal renders the merged configuration, as written to config.yaml.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
