package model

import (
	"time"

	"l2g/internal/dna"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

type RunRecord struct {
	VersionedRecord
	ID                     string    `json:"id"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
	Seed                   uint64    `json:"seed"`
	Strategy               string    `json:"strategy"`
	Fitness                string    `json:"fitness"`
	NumGenerations         int       `json:"num_generations"`
	SurvivorsPerGeneration int       `json:"survivors_per_generation"`
	ChildrenPerSurvivor    int       `json:"children_per_survivor"`
	Status                 RunStatus `json:"status"`
	Error                  string    `json:"error,omitempty"`
	Generations            int       `json:"generations"`
	BestFitness            float64   `json:"best_fitness"`
	BestGenomeID           uint64    `json:"best_genome_id"`
	// Config is the YAML configuration the run was started with.
	Config string `json:"config,omitempty"`
}

// CandidateRecord is one evaluated job. Failed candidates keep their genome
// and seed so they can be replayed.
type CandidateRecord struct {
	VersionedRecord
	Generation int     `json:"generation"`
	Candidate  int     `json:"candidate"`
	GenomeID   uint64  `json:"genome_id"`
	Seed       uint64  `json:"seed"`
	Fitness    float64 `json:"fitness"`
	Auxiliary  float64 `json:"auxiliary"`
	Failed     bool    `json:"failed,omitempty"`
	Error      string  `json:"error,omitempty"`
	Genome     dna.Dna `json:"genome"`
}

type LineageRecord struct {
	VersionedRecord
	ParentID   uint64 `json:"parent_id"`
	GenomeID   uint64 `json:"genome_id"`
	Generation int    `json:"generation"`
}

type PoolEntry struct {
	Genome    dna.Dna  `json:"genome"`
	Fitness   float64  `json:"fitness"`
	Auxiliary *float64 `json:"auxiliary,omitempty"`
}

// PoolSnapshot is the survivor pool as it stood after Generation was pruned.
type PoolSnapshot struct {
	VersionedRecord
	Generation int         `json:"generation"`
	Entries    []PoolEntry `json:"entries"`
}

type GenerationDiagnostics struct {
	Generation    int     `json:"generation"`
	Candidates    int     `json:"candidates"`
	Failed        int     `json:"failed"`
	BestFitness   float64 `json:"best_fitness"`
	MeanFitness   float64 `json:"mean_fitness"`
	MedianFitness float64 `json:"median_fitness"`
	MinFitness    float64 `json:"min_fitness"`
	StdDevFitness float64 `json:"stddev_fitness"`
	PoolFloor     float64 `json:"pool_floor"`
	PoolBest      float64 `json:"pool_best"`
	Replacements  int     `json:"replacements"`
	BestGenomeID  uint64  `json:"best_genome_id"`
	MeanAuxiliary float64 `json:"mean_auxiliary"`
}
