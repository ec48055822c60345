package mcts

import "math"

// Config tunes the search. The defaults reproduce ordinary AlphaZero-style
// self-play; strength-test and tournament runs override the time-control and
// exploration fields.
type Config struct {
	// Parallelism and batching.
	PredictionBatchSize int

	// Game generation.
	NumSampleMoves      int // opening plies played proportionally to visit counts
	MaxMoves            int // adjudicate a draw beyond this many plies
	SimulationLimit     int
	FastSimulationLimit int
	FastPlayFraction    float32

	// Root exploration noise.
	RootDirichletAlpha      float32
	RootExplorationFraction float32

	// AZ-PUCT.
	ExplorationRateBase float32
	ExplorationRateInit float32

	// SBLE-PUCT blends a linear exploration term into the AZ score. Off by
	// default.
	UseSblePuct           bool
	LinearExplorationRate float32
	LinearExplorationBase float32

	VirtualLossCoefficient float32

	// Value averaging: build 1 with an unbounded cap is the arithmetic mean.
	MovingAverageBuild float32
	MovingAverageCap   float32

	// Time control.
	TimeSafetyBufferMs      int64
	FractionOfRemainingTime float32
	EliminationFraction     float32
	EliminationRootVisits   int

	// Prediction cache.
	PredictionCacheChunkCount int
	PredictionCacheMaxPly     int

	// Probe endgame databases when at most this many pieces remain and the
	// leaf sits within MaxTablebasePly plies of the search root. Zero
	// cardinality disables probing.
	MaxTablebaseCardinality int
	MaxTablebasePly         int
}

func DefaultConfig() Config {
	return Config{
		PredictionBatchSize:       16,
		NumSampleMoves:            30,
		MaxMoves:                  512,
		SimulationLimit:           800,
		FastSimulationLimit:       150,
		FastPlayFraction:          0,
		RootDirichletAlpha:        0.3,
		RootExplorationFraction:   0.25,
		ExplorationRateBase:       19652,
		ExplorationRateInit:       1.25,
		UseSblePuct:               false,
		LinearExplorationRate:     1.75,
		LinearExplorationBase:     10000,
		VirtualLossCoefficient:    1.0,
		MovingAverageBuild:        1.0,
		MovingAverageCap:          math.MaxFloat32,
		TimeSafetyBufferMs:        100,
		FractionOfRemainingTime:   0.05,
		EliminationFraction:       0.5,
		EliminationRootVisits:     0,
		PredictionCacheChunkCount: 1 << 14,
		PredictionCacheMaxPly:     40,
		MaxTablebaseCardinality:   0,
		MaxTablebasePly:           32,
	}
}

func (c Config) IsValid() bool {
	return c.PredictionBatchSize > 0 &&
		c.MaxMoves > 0 &&
		c.SimulationLimit > 0 &&
		c.ExplorationRateBase > 0 &&
		c.MovingAverageBuild > 0 &&
		c.MovingAverageCap > 0 &&
		c.VirtualLossCoefficient >= 0
}

// simulationLimit picks the per-move budget, trading a fraction of full-width
// games for fast ones to diversify training data.
func (c Config) simulationLimit(coin float32) int {
	if c.FastPlayFraction > 0 && coin < c.FastPlayFraction && c.FastSimulationLimit > 0 {
		return c.FastSimulationLimit
	}
	return c.SimulationLimit
}
