// Package fault converts stress and corruption into fault probabilities and
// provides the tick-addressable random source used to decide faults.
package fault

import (
	"math/rand/v2"
	"time"
)

// MaxProbability bounds every fault probability. Faults stay recoverable.
const MaxProbability = 0.35

// Golden is the odd 64-bit constant mixing tick numbers into the seed.
const Golden uint64 = 0x9E3779B97F4A7C15

// Tunables parameterise the fault model and the retry policy.
type Tunables struct {
	Base                float64 `yaml:"base" json:"base"`
	HeatWeight          float64 `yaml:"heat_weight" json:"heat_weight"`
	BandwidthWeight     float64 `yaml:"bandwidth_weight" json:"bandwidth_weight"`
	StarvationWeight    float64 `yaml:"starvation_weight" json:"starvation_weight"`
	DecayPerTick        float64 `yaml:"decay_per_tick" json:"decay_per_tick"`
	RecoverBoost        float64 `yaml:"recover_boost" json:"recover_boost"`
	FaultRaise          float64 `yaml:"fault_raise" json:"fault_raise"`
	RetryBackoffMs      uint64  `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	MaxRetries          int     `yaml:"max_retries" json:"max_retries"`
	StarvationHorizonMs uint64  `yaml:"starvation_horizon_ms" json:"starvation_horizon_ms"`
}

// DefaultTunables returns the stock corruption and retry parameters.
func DefaultTunables() Tunables {
	return Tunables{
		Base:                0.002,
		HeatWeight:          0.8,
		BandwidthWeight:     0.6,
		StarvationWeight:    0.4,
		DecayPerTick:        0.01,
		RecoverBoost:        0.5,
		FaultRaise:          0.02,
		RetryBackoffMs:      250,
		MaxRetries:          2,
		StarvationHorizonMs: 5000,
	}
}

// Probability returns the chance that the op currently finishing faults.
// heatFrac, bwUtil and starvation are normalized stress signals; every input
// is clamped to [0,1] before weighting and the sum is clamped to
// [0, MaxProbability].
func Probability(base, global, worker, heatFrac, bwUtil, starvation float64, t Tunables) float64 {
	p := base +
		0.5*unit(global) +
		0.5*unit(worker) +
		t.HeatWeight*unit(heatFrac) +
		t.BandwidthWeight*unit(bwUtil) +
		t.StarvationWeight*unit(starvation)
	return clamp(p, 0, MaxProbability)
}

// Kind classifies what drove a fault.
type Kind string

const (
	KindCorruption Kind = "corruption"
	KindThermal    Kind = "thermal"
	KindBandwidth  Kind = "bandwidth"
	KindStarvation Kind = "starvation"
	KindSpurious   Kind = "spurious"
)

// Classify names the largest weighted contributor to a fault. Ties go to the
// earlier term in the order corruption, thermal, bandwidth, starvation.
func Classify(global, worker, heatFrac, bwUtil, starvation float64, t Tunables) Kind {
	terms := [...]struct {
		kind Kind
		v    float64
	}{
		{KindCorruption, 0.5*unit(global) + 0.5*unit(worker)},
		{KindThermal, t.HeatWeight * unit(heatFrac)},
		{KindBandwidth, t.BandwidthWeight * unit(bwUtil)},
		{KindStarvation, t.StarvationWeight * unit(starvation)},
	}
	best := KindSpurious
	bestV := 0.0
	for _, term := range terms {
		if term.v > bestV {
			best, bestV = term.kind, term.v
		}
	}
	return best
}

// TickRNG returns the random source for one tick. The same (seed, tick)
// always yields the same stream. It is the only source fault decisions may
// draw from.
func TickRNG(seed, tick uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed^(tick*Golden), Golden))
}

// Backoff returns the delay before retry number attempt (1-based) becomes
// eligible: RetryBackoffMs * 2^(attempt-1).
func (t Tunables) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := min(attempt-1, 32)
	return time.Duration(t.RetryBackoffMs<<uint(shift)) * time.Millisecond
}

// Field is the colony-wide corruption scalar.
type Field struct {
	Global float64 `json:"global"`
}

// Step applies one tick: passive decay floored at zero, then the corruption
// raised by this tick's faults. It is the only mutation of the field per tick.
func (f *Field) Step(dt, raised float64, t Tunables) {
	g := max(0, f.Global-t.DecayPerTick*dt)
	f.Global = clamp(g+raised, 0, 1)
}

// thermalStress is the per-worker corruption pressure while running.
const thermalStress = 0.1

// StepWorkerCorruption advances a worker's own corruption by dt. Discipline
// resists growth; maintenance adds RecoverBoost decay on top of the passive
// 10% relaxation.
func StepWorkerCorruption(c, discipline float64, running, maintenance bool, dt float64, t Tunables) float64 {
	stress := 0.0
	if running {
		stress = thermalStress
	}
	next := c + dt*(stress*(1-0.5*unit(discipline))-c*0.1)
	if maintenance {
		next -= dt * t.RecoverBoost * c
	}
	return clamp(next, 0, 1)
}

func unit(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
