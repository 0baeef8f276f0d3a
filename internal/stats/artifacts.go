// Package stats writes the on-disk record of a run: one directory per
// evaluated candidate plus run-level summaries and plots.
package stats

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"l2g/internal/dna"
	"l2g/internal/protocol"
	"l2g/internal/sim"
)

const (
	DNAFile       = "dna.yaml"
	ProtocolFile  = "protocol.csv"
	ProtocolsPlot = "protocols.png"
	StatsFile     = "stats.yaml"

	ConfigFile      = "config.yaml"
	FitnessesFile   = "fitnesses.json"
	LineageFile     = "lineage.json"
	PoolFile        = "pool.json"
	DiagnosticsFile = "diagnostics.json"
	ProgressPlot    = "progress.png"
)

// CandidateStats is the stats.yaml written beside every candidate.
type CandidateStats struct {
	Generation int        `yaml:"generation"`
	Candidate  int        `yaml:"candidate"`
	GenomeID   uint64     `yaml:"genome_id"`
	Seed       uint64     `yaml:"seed"`
	Fitness    float64    `yaml:"fitness"`
	Auxiliary  float64    `yaml:"auxiliary"`
	Failed     bool       `yaml:"failed,omitempty"`
	Error      string     `yaml:"error,omitempty"`
	Final      *sim.Stats `yaml:"final,omitempty"`
}

// CandidateDir is <base>/<generation:03>/<candidate:03>.
func CandidateDir(base string, generation, candidate int) string {
	return filepath.Join(base, fmt.Sprintf("%03d", generation), fmt.Sprintf("%03d", candidate))
}

// WriteCandidate writes dna.yaml, protocol.csv and stats.yaml into dir, and
// protocols.png when plot is set. trajectory may be empty for failed
// candidates.
func WriteCandidate(dir string, genome dna.Dna, trajectory []protocol.Step, stats CandidateStats, plot bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := dna.WriteFile(filepath.Join(dir, DNAFile), genome); err != nil {
		return err
	}
	if err := WriteProtocol(filepath.Join(dir, ProtocolFile), trajectory); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(dir, StatsFile), stats); err != nil {
		return err
	}
	if plot && len(trajectory) > 0 {
		series := []Series{{Label: genome.String(), Steps: trajectory}}
		if err := PlotProtocols(filepath.Join(dir, ProtocolsPlot), fmt.Sprintf("genome %d", genome.ID), series); err != nil {
			return fmt.Errorf("plot protocol: %w", err)
		}
	}
	return nil
}

func ReadCandidateStats(dir string) (CandidateStats, error) {
	data, err := os.ReadFile(filepath.Join(dir, StatsFile))
	if err != nil {
		return CandidateStats{}, err
	}
	var stats CandidateStats
	if err := yaml.Unmarshal(data, &stats); err != nil {
		return CandidateStats{}, fmt.Errorf("decode %s: %w", StatsFile, err)
	}
	return stats, nil
}

func WriteProtocol(path string, steps []protocol.Step) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"step", "interaction_energy", "chemical_potential"}); err != nil {
		return err
	}
	for i, step := range steps {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(step.InteractionEnergy, 'f', -1, 64),
			strconv.FormatFloat(step.ChemicalPotential, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadProtocol(path string) ([]protocol.Step, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%s: missing header", path)
		}
		return nil, err
	}

	var steps []protocol.Step
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ie, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, err
		}
		mu, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, err
		}
		steps = append(steps, protocol.Step{InteractionEnergy: ie, ChemicalPotential: mu})
	}
	return steps, nil
}

// WriteConfig stores the run configuration verbatim as config.yaml.
func WriteConfig(base string, config []byte) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(base, ConfigFile), config, 0o644)
}

func ReadFitnesses(base string) ([]float64, error) {
	data, err := os.ReadFile(filepath.Join(base, FitnessesFile))
	if err != nil {
		return nil, err
	}
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode %s: %w", FitnessesFile, err)
	}
	return history, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeYAML(path string, value any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
