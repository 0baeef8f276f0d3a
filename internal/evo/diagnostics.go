package evo

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

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

func summarizeGeneration(generation int, outcomes []Outcome, pool *Pool, replacements int) GenerationDiagnostics {
	d := GenerationDiagnostics{
		Generation:   generation,
		Candidates:   len(outcomes),
		Replacements: replacements,
		PoolFloor:    pool.Floor(),
	}
	best := pool.Best()
	d.PoolBest = best.Fitness

	fitnesses := make([]float64, 0, len(outcomes))
	aux := make([]float64, 0, len(outcomes))
	bestIdx := -1
	for i, o := range outcomes {
		if o.Failed() {
			d.Failed++
			continue
		}
		fitnesses = append(fitnesses, o.Score.Fitness)
		aux = append(aux, o.Score.Aux)
		if bestIdx < 0 || o.Score.Fitness > outcomes[bestIdx].Score.Fitness {
			bestIdx = i
		}
	}
	if len(fitnesses) == 0 {
		return d
	}
	d.BestGenomeID = outcomes[bestIdx].Genome.ID
	d.BestFitness = outcomes[bestIdx].Score.Fitness
	d.MeanFitness, d.StdDevFitness = stat.MeanStdDev(fitnesses, nil)
	if len(fitnesses) < 2 {
		d.StdDevFitness = 0
	}
	d.MeanAuxiliary = stat.Mean(aux, nil)

	sorted := append([]float64(nil), fitnesses...)
	sort.Float64s(sorted)
	d.MinFitness = sorted[0]
	d.MedianFitness = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return d
}
