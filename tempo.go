// Package tempo wires the self-play search, replay storage, and training
// loop into one engine.
package tempo

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/temposearch/tempo/mcts"
	"github.com/temposearch/tempo/nn"
	"github.com/temposearch/tempo/storage"
)

// Engine runs the self-play/train cycle: a worker group generates games into
// replay storage, then the trainer samples batches from the window and steps
// the network, iteration after iteration.
type Engine struct {
	Statistics

	Config  Config
	Network nn.Network

	store       *storage.Storage
	searchState *mcts.SearchState
	cache       *mcts.PredictionCache
	selfPlay    *mcts.WorkerGroup

	logger zerolog.Logger
	rng    *rand.Rand

	searchConfig mcts.Config
	trainStep    int
}

// New builds an engine around the given network. Workers do not start until
// Learn or StartSelfPlay.
func New(config Config, network nn.Network, logger zerolog.Logger) *Engine {
	searchConfig := config.MctsConfig()

	searchState := mcts.NewSearchState(&searchConfig)
	cache := mcts.NewPredictionCache(searchConfig.PredictionCacheChunkCount)
	searchState.SetPredictionCache(cache)

	return &Engine{
		Statistics:   makeStatistics(),
		Config:       config,
		Network:      network,
		store:        storage.New(config.Storage.Dir, config.Storage.WindowSize, config.Storage.ChunkSize),
		searchState:  searchState,
		cache:        cache,
		logger:       logger,
		rng:          rand.New(rand.NewSource(config.Workers.Seed)),
		searchConfig: searchConfig,
	}
}

// Storage exposes the replay window, mainly for rendering finished games.
func (e *Engine) Storage() *storage.Storage { return e.store }

// SearchState exposes the shared search state, mainly for debug toggles.
func (e *Engine) SearchState() *mcts.SearchState { return e.searchState }

// SetTablebases installs an endgame prober consulted during expansion.
func (e *Engine) SetTablebases(prober mcts.TablebaseProber) {
	e.searchState.SetTablebases(prober)
}

// StartSelfPlay launches the worker group. Workers park until work items are
// published, so starting is cheap.
func (e *Engine) StartSelfPlay(networkType nn.NetworkType) {
	if e.selfPlay != nil {
		return
	}
	loop := func(worker *mcts.SelfPlayWorker, coordinator *mcts.WorkCoordinator, network nn.Network, nt nn.NetworkType, primary bool) {
		worker.LoopSelfPlay(coordinator, network, nt)
	}
	batched := nn.NewBatched(e.Network, e.searchConfig.PredictionBatchSize)
	e.selfPlay = mcts.NewWorkerGroup(e.store, e.searchState, batched, networkType,
		e.Config.Workers.Count, e.Config.Workers.Parallelism, e.Config.Workers.Seed, e.logger, loop)
}

// Learn runs the configured number of iterations: generate games, train,
// checkpoint, and optionally strength-test.
func (e *Engine) Learn(networkType nn.NetworkType) error {
	e.StartSelfPlay(networkType)

	for iteration := 1; iteration <= e.Config.Train.Iterations; iteration++ {
		stats := IterationStats{Iteration: iteration}
		start := time.Now()

		seenBefore := e.store.GamesSeen()
		e.selfPlay.Coordinator.ResetWorkItemsRemaining(e.Config.Train.GamesPerIteration)
		e.selfPlay.Coordinator.WaitForWorkers()

		for _, stored := range e.store.RecentGames(e.store.GamesSeen() - seenBefore) {
			stats.recordGame(stored.Result, stored.MoveCount())
		}
		e.logger.Info().
			Int("iteration", iteration).
			Int("games", stats.Games).
			Int("white_wins", stats.WhiteWins).
			Int("black_wins", stats.BlackWins).
			Int("draws", stats.Draws).
			Dur("took", time.Since(start)).
			Msg("self-play complete")

		if err := e.train(networkType, iteration); err != nil {
			return err
		}

		if interval := e.Config.Train.CheckpointInterval; interval > 0 && iteration%interval == 0 {
			if err := e.Network.SaveNetwork(networkType, iteration); err != nil {
				return errors.Wrapf(err, "saving checkpoint at iteration %d", iteration)
			}
		}

		if path := e.Config.Train.StrengthTestEpd; path != "" {
			score, total, err := e.strengthTest(networkType, path)
			if err != nil {
				return err
			}
			stats.StrengthScore, stats.StrengthMax = score, total
		}

		e.update(stats)
	}
	return nil
}

// train samples batches from the replay window and steps the network. The
// prediction cache is stale against the new weights afterwards, so it resets.
func (e *Engine) train(networkType nn.NetworkType, iteration int) error {
	if e.store.WindowLen() == 0 {
		e.logger.Warn().Int("iteration", iteration).Msg("no games in window, skipping training")
		return nil
	}
	start := time.Now()
	for step := 0; step < e.Config.Train.StepsPerIteration; step++ {
		images, values, policies, err := e.store.SampleBatch(e.Config.Train.BatchSize, e.rng)
		if err != nil {
			return errors.Wrapf(err, "sampling batch at iteration %d", iteration)
		}
		e.trainStep++
		if err := e.Network.TrainBatch(networkType, images, values, policies, e.trainStep); err != nil {
			return errors.Wrapf(err, "training step %d", e.trainStep)
		}
	}
	e.cache.Reset()
	e.logger.Info().
		Int("iteration", iteration).
		Int("steps", e.Config.Train.StepsPerIteration).
		Int("window", e.store.WindowLen()).
		Dur("took", time.Since(start)).
		Msg("training complete")
	return nil
}

// strengthTest grades the current network on an EPD suite using the
// controller-side worker. Self-play workers are parked between batches, so
// borrowing the shared search state here is safe.
func (e *Engine) strengthTest(networkType nn.NetworkType, path string) (int, int, error) {
	nodes := e.Config.Train.StrengthTestNodes
	score, total, positions, failures, err := e.selfPlay.ControllerWorker.StrengthTestEpd(
		e.Network, networkType, path, 0, nodes, 0, nil)
	if err != nil {
		return score, total, errors.Wrapf(err, "strength test %q", path)
	}
	e.logger.Info().
		Str("epd", path).
		Int("score", score).
		Int("total", total).
		Int("positions", positions).
		Int("failures", failures).
		Msg("strength test complete")
	return score, total, nil
}

// ShutDown stops the workers and waits for them to exit.
func (e *Engine) ShutDown() {
	if e.selfPlay != nil {
		e.selfPlay.ShutDown()
		e.selfPlay = nil
	}
}
