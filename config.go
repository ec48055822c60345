package tempo

import (
	"math"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/temposearch/tempo/mcts"
)

// Config is the full engine configuration, loaded from TOML. Zero values in
// the file fall back to the defaults from DefaultConfig.
type Config struct {
	Name    string        `toml:"name"`
	Workers WorkersConfig `toml:"workers"`
	Search  SearchConfig  `toml:"search"`
	Storage StorageConfig `toml:"storage"`
	Train   TrainConfig   `toml:"train"`
}

type WorkersConfig struct {
	Count       int   `toml:"count"`
	Parallelism int   `toml:"parallelism"` // game slots per worker
	Seed        int64 `toml:"seed"`
}

type SearchConfig struct {
	PredictionBatchSize int     `toml:"prediction_batch_size"`
	NumSampleMoves      int     `toml:"num_sample_moves"`
	MaxMoves            int     `toml:"max_moves"`
	SimulationLimit     int     `toml:"simulation_limit"`
	FastSimulationLimit int     `toml:"fast_simulation_limit"`
	FastPlayFraction    float32 `toml:"fast_play_fraction"`

	RootDirichletAlpha      float32 `toml:"root_dirichlet_alpha"`
	RootExplorationFraction float32 `toml:"root_exploration_fraction"`

	ExplorationRateBase float32 `toml:"exploration_rate_base"`
	ExplorationRateInit float32 `toml:"exploration_rate_init"`

	UseSblePuct           bool    `toml:"use_sble_puct"`
	LinearExplorationRate float32 `toml:"linear_exploration_rate"`
	LinearExplorationBase float32 `toml:"linear_exploration_base"`

	VirtualLossCoefficient float32 `toml:"virtual_loss_coefficient"`
	MovingAverageBuild     float32 `toml:"moving_average_build"`
	MovingAverageCap       float32 `toml:"moving_average_cap"`

	TimeSafetyBufferMs      int64   `toml:"time_safety_buffer_ms"`
	FractionOfRemainingTime float32 `toml:"fraction_of_remaining_time"`
	EliminationFraction     float32 `toml:"elimination_fraction"`
	EliminationRootVisits   int     `toml:"elimination_root_visits"`

	PredictionCacheChunkCount int `toml:"prediction_cache_chunk_count"`
	PredictionCacheMaxPly     int `toml:"prediction_cache_max_ply"`

	MaxTablebaseCardinality int `toml:"max_tablebase_cardinality"`
	MaxTablebasePly         int `toml:"max_tablebase_ply"`
}

type StorageConfig struct {
	Dir        string `toml:"dir"`
	WindowSize int    `toml:"window_size"`
	ChunkSize  int    `toml:"chunk_size"`
}

type TrainConfig struct {
	GamesPerIteration  int    `toml:"games_per_iteration"`
	Iterations         int    `toml:"iterations"`
	BatchSize          int    `toml:"batch_size"`
	StepsPerIteration  int    `toml:"steps_per_iteration"`
	CheckpointInterval int    `toml:"checkpoint_interval"`
	StrengthTestEpd    string `toml:"strength_test_epd"`
	StrengthTestNodes  int    `toml:"strength_test_nodes"`
}

// DefaultConfig is a working self-play setup on one machine.
func DefaultConfig() Config {
	search := mcts.DefaultConfig()
	return Config{
		Name: "tempo",
		Workers: WorkersConfig{
			Count:       2,
			Parallelism: search.PredictionBatchSize,
			Seed:        1,
		},
		Search: SearchConfig{
			PredictionBatchSize:       search.PredictionBatchSize,
			NumSampleMoves:            search.NumSampleMoves,
			MaxMoves:                  search.MaxMoves,
			SimulationLimit:           search.SimulationLimit,
			FastSimulationLimit:       search.FastSimulationLimit,
			FastPlayFraction:          search.FastPlayFraction,
			RootDirichletAlpha:        search.RootDirichletAlpha,
			RootExplorationFraction:   search.RootExplorationFraction,
			ExplorationRateBase:       search.ExplorationRateBase,
			ExplorationRateInit:       search.ExplorationRateInit,
			UseSblePuct:               search.UseSblePuct,
			LinearExplorationRate:     search.LinearExplorationRate,
			LinearExplorationBase:     search.LinearExplorationBase,
			VirtualLossCoefficient:    search.VirtualLossCoefficient,
			MovingAverageBuild:        search.MovingAverageBuild,
			MovingAverageCap:          search.MovingAverageCap,
			TimeSafetyBufferMs:        search.TimeSafetyBufferMs,
			FractionOfRemainingTime:   search.FractionOfRemainingTime,
			EliminationFraction:       search.EliminationFraction,
			EliminationRootVisits:     search.EliminationRootVisits,
			PredictionCacheChunkCount: search.PredictionCacheChunkCount,
			PredictionCacheMaxPly:     search.PredictionCacheMaxPly,
			MaxTablebaseCardinality:   search.MaxTablebaseCardinality,
			MaxTablebasePly:           search.MaxTablebasePly,
		},
		Storage: StorageConfig{
			Dir:        "data/games",
			WindowSize: 10000,
			ChunkSize:  100,
		},
		Train: TrainConfig{
			GamesPerIteration:  100,
			Iterations:         10,
			BatchSize:          256,
			StepsPerIteration:  100,
			CheckpointInterval: 5,
			StrengthTestNodes:  2000,
		},
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return config, errors.Wrapf(err, "loading config %q", path)
	}
	return config, config.Validate()
}

// Validate rejects configurations the engine cannot run.
func (c *Config) Validate() error {
	if c.Workers.Count < 1 {
		return errors.New("config: workers.count must be at least 1")
	}
	if c.Workers.Parallelism < 1 {
		return errors.New("config: workers.parallelism must be at least 1")
	}
	if !c.MctsConfig().IsValid() {
		return errors.New("config: invalid search settings")
	}
	if c.Train.GamesPerIteration < 1 {
		return errors.New("config: train.games_per_iteration must be at least 1")
	}
	if c.Train.BatchSize < 1 {
		return errors.New("config: train.batch_size must be at least 1")
	}
	return nil
}

// MctsConfig maps the search section onto the search package's options.
func (c *Config) MctsConfig() mcts.Config {
	s := c.Search
	out := mcts.Config{
		PredictionBatchSize:       s.PredictionBatchSize,
		NumSampleMoves:            s.NumSampleMoves,
		MaxMoves:                  s.MaxMoves,
		SimulationLimit:           s.SimulationLimit,
		FastSimulationLimit:       s.FastSimulationLimit,
		FastPlayFraction:          s.FastPlayFraction,
		RootDirichletAlpha:        s.RootDirichletAlpha,
		RootExplorationFraction:   s.RootExplorationFraction,
		ExplorationRateBase:       s.ExplorationRateBase,
		ExplorationRateInit:       s.ExplorationRateInit,
		UseSblePuct:               s.UseSblePuct,
		LinearExplorationRate:     s.LinearExplorationRate,
		LinearExplorationBase:     s.LinearExplorationBase,
		VirtualLossCoefficient:    s.VirtualLossCoefficient,
		MovingAverageBuild:        s.MovingAverageBuild,
		MovingAverageCap:          s.MovingAverageCap,
		TimeSafetyBufferMs:        s.TimeSafetyBufferMs,
		FractionOfRemainingTime:   s.FractionOfRemainingTime,
		EliminationFraction:       s.EliminationFraction,
		EliminationRootVisits:     s.EliminationRootVisits,
		PredictionCacheChunkCount: s.PredictionCacheChunkCount,
		PredictionCacheMaxPly:     s.PredictionCacheMaxPly,
		MaxTablebaseCardinality:   s.MaxTablebaseCardinality,
		MaxTablebasePly:           s.MaxTablebasePly,
	}
	if out.MovingAverageCap == 0 {
		out.MovingAverageCap = math.MaxFloat32
	}
	return out
}
