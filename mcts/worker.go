package mcts

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/leesper/go_rng"
	"github.com/rs/zerolog"

	"github.com/temposearch/tempo/game"
	"github.com/temposearch/tempo/nn"
	"github.com/temposearch/tempo/storage"
)

// predictionCacheResetThrottle spaces out full cache resets under capacity
// pressure, shared across workers.
var predictionCacheResetThrottle = NewThrottle(time.Minute)

const freshTablebaseCardinality = 33 // above any real piece count

type simResult int

const (
	simCompleted simResult = iota
	simSuspended
	simFailed
)

// SelfPlayWorker owns one thread's worth of game slots. Each slot is a
// resumable simulation: the worker advances every slot to its next
// suspension point, services one synchronous prediction batch for the slots
// that need it, and repeats. No other worker touches these slots; sharing
// happens only through Node atomics, the prediction cache, and SearchState.
type SelfPlayWorker struct {
	store       *storage.Storage
	searchState *SearchState
	logger      zerolog.Logger
	rand        *rand.Rand
	gamma       *rng.GammaGenerator
	lumber      lumberjack

	states                 []SelfPlayState
	images                 [][]float32
	values                 []float32
	policies               [][]float32
	tablebaseCardinalities []int

	games                []*SelfPlayGame
	scratchGames         []*SelfPlayGame
	gameStarts           []time.Time
	mctsSimulations      []int
	mctsSimulationLimits []int
	searchPaths          [][]WeightedNode
	cacheStores          []*PredictionCacheChunk
}

func NewSelfPlayWorker(store *storage.Storage, searchState *SearchState, gameCount int, seed int64, logger zerolog.Logger) *SelfPlayWorker {
	w := &SelfPlayWorker{
		store:       store,
		searchState: searchState,
		logger:      logger,
		rand:        rand.New(rand.NewSource(seed)),
		gamma:       rng.NewGammaGenerator(seed),
		lumber:      makeLumberJack(),

		states:                 make([]SelfPlayState, gameCount),
		images:                 make([][]float32, gameCount),
		values:                 make([]float32, gameCount),
		policies:               make([][]float32, gameCount),
		tablebaseCardinalities: make([]int, gameCount),

		games:                make([]*SelfPlayGame, gameCount),
		scratchGames:         make([]*SelfPlayGame, gameCount),
		gameStarts:           make([]time.Time, gameCount),
		mctsSimulations:      make([]int, gameCount),
		mctsSimulationLimits: make([]int, gameCount),
		searchPaths:          make([][]WeightedNode, gameCount),
		cacheStores:          make([]*PredictionCacheChunk, gameCount),
	}
	for i := 0; i < gameCount; i++ {
		w.images[i] = game.NewImage()
		w.policies[i] = game.NewPolicy()
	}
	go w.lumber.start()
	return w
}

// TraceLog returns the accumulated simulation trace. Empty outside debug
// builds.
func (w *SelfPlayWorker) TraceLog() string { return w.lumber.Log() }

func (w *SelfPlayWorker) SlotCount() int { return len(w.games) }

// ChooseSimulationLimit picks this move's budget, occasionally trading a
// full-width search for a fast one to diversify training games.
func (w *SelfPlayWorker) ChooseSimulationLimit() int {
	return w.searchState.Config.simulationLimit(w.rand.Float32())
}

// ClearGame releases a slot's tree so the next game starts cold.
func (w *SelfPlayWorker) ClearGame(index int) {
	if g := w.games[index]; g != nil {
		g.PruneAll()
	}
	w.games[index] = nil
	w.scratchGames[index] = nil
	w.searchPaths[index] = w.searchPaths[index][:0]
	w.cacheStores[index] = nil
}

// SetUpGame starts a fresh self-play game in the slot.
func (w *SelfPlayWorker) SetUpGame(index int) {
	w.tablebaseCardinalities[index] = freshTablebaseCardinality
	w.games[index] = NewSelfPlayGame(w.images[index], &w.values[index], w.policies[index], &w.tablebaseCardinalities[index])
	w.states[index] = Working
	w.gameStarts[index] = time.Now()
	w.mctsSimulations[index] = 0
	w.mctsSimulationLimits[index] = w.ChooseSimulationLimit()
}

// SetUpSearchGame points the slot at an arbitrary position for tournament
// play and strength tests.
func (w *SelfPlayWorker) SetUpSearchGame(index int, fen string, moves []game.Move) error {
	w.tablebaseCardinalities[index] = freshTablebaseCardinality
	g, err := NewSelfPlayGameFEN(fen, moves, true, w.images[index], &w.values[index], w.policies[index], &w.tablebaseCardinalities[index])
	if err != nil {
		return err
	}
	w.games[index] = g
	w.states[index] = Working
	w.gameStarts[index] = time.Now()
	w.mctsSimulations[index] = 0
	w.mctsSimulationLimits[index] = w.searchState.Config.SimulationLimit
	return nil
}

// IsTerminal reports whether the game is over by rule or adjudicated at the
// move limit.
func (w *SelfPlayWorker) IsTerminal(g *SelfPlayGame) bool {
	if g.Ply() >= w.searchState.Config.MaxMoves {
		return true
	}
	return g.Position().ComputeStatus() != game.StatusOngoing
}

// LoopSelfPlay generates games until the coordinator runs out of work items.
// A nil network plays uniformly, which is how bootstrap data gets made.
func (w *SelfPlayWorker) LoopSelfPlay(coordinator *WorkCoordinator, network nn.Network, networkType nn.NetworkType) {
	for coordinator.WaitForWorkItems() {
		for i := range w.games {
			w.ClearGame(i)
			w.SetUpGame(i)
		}
		for !coordinator.AllWorkItemsCompleted() {
			for i := range w.games {
				w.Play(i)
				if w.states[i] == Finished {
					w.SaveToStorageAndLog(i)
					coordinator.OnWorkItemCompleted()
					w.ClearGame(i)
					w.SetUpGame(i)
				}
			}
			w.predictBatch(network, networkType)
			w.maybeResetPredictionCache()
		}
		coordinator.OnWorkerIdle()
	}
}

// Play advances one slot: searches, plays moves, and repeats until the game
// ends or the slot suspends for a prediction.
func (w *SelfPlayWorker) Play(index int) {
	g := w.games[index]
	for {
		if w.IsTerminal(g) {
			g.Complete()
			w.states[index] = Finished
			return
		}
		if !w.RunMcts(index) {
			return
		}
		best := w.SelectMove(g, !g.TryHard())
		g.StoreSearchStatistics()
		oldRoot := g.Root()
		if err := g.ApplyMoveWithRoot(best.Move(), best); err != nil {
			// Tree and board disagree; unrecoverable for this game.
			w.logger.Error().Err(err).Int("slot", index).Msg("abandoning game on illegal tree move")
			g.Complete()
			w.states[index] = Finished
			return
		}
		g.PruneExcept(oldRoot, best)
		g.UpdateSearchRootPly()
		w.mctsSimulations[index] = 0
		w.mctsSimulationLimits[index] = w.ChooseSimulationLimit()
	}
}

// RunMcts runs simulations for the slot's current move. Returns true when
// the simulation budget for this move is spent (or the root is proven),
// false when the slot suspended or abandoned a simulation.
func (w *SelfPlayWorker) RunMcts(index int) bool {
	g := w.games[index]
	config := w.searchState.Config
	for {
		if w.mctsSimulations[index] >= w.mctsSimulationLimits[index] {
			return true
		}
		if t := g.Root().Terminal(); !t.IsNonTerminal() && w.mctsSimulations[index] > 0 {
			// Proven outcome; extra simulations cannot change the move.
			return true
		}
		switch w.stepSimulation(index, g) {
		case simSuspended:
			return false
		case simFailed:
			// Abandoned, not retried within this pass.
			return false
		case simCompleted:
			w.mctsSimulations[index]++
			if w.mctsSimulations[index] == 1 && !g.TryHard() {
				g.AddExplorationNoise(w.gamma, config.RootDirichletAlpha, config.RootExplorationFraction)
			}
		}
	}
}

// stepSimulation resumes a suspended simulation or starts a new one:
// descend by PUCT to a leaf, expand or fetch its value, backpropagate.
func (w *SelfPlayWorker) stepSimulation(index int, g *SelfPlayGame) simResult {
	state := &w.states[index]
	cacheStore := &w.cacheStores[index]
	var value float32

	if *state == WaitingForPrediction {
		scratch := w.scratchGames[index]
		value = scratch.ExpandAndEvaluate(state, cacheStore, w.searchState, scratch.Root() == g.Root())
	} else {
		scratch := g.SpawnShadow(w.images[index], &w.values[index], w.policies[index])
		w.scratchGames[index] = scratch

		path := w.searchPaths[index][:0]
		root := g.Root()
		root.AddVisiting()
		path = append(path, WeightedNode{Node: root, Weight: 1})

		node := root
		for node.IsExpanded() && node.ChildCount() > 0 && node.Terminal().IsNonTerminal() {
			selected := NewPuctContext(w.searchState, node).SelectChild()
			if err := scratch.descend(selected.Node); err != nil {
				selected.Node.RemoveVisiting()
				w.searchPaths[index] = path
				w.FailNode(path)
				return simFailed
			}
			path = append(path, selected)
			node = selected.Node
		}
		w.searchPaths[index] = path

		value = scratch.ExpandAndEvaluate(state, cacheStore, w.searchState, node == root)
		if *state == WaitingForPrediction {
			return simSuspended
		}
	}

	path := w.searchPaths[index]
	if value == game.ValueUninitialized {
		w.lumber.log("slot %d: abandoned simulation at depth %d", index, len(path))
		w.FailNode(path)
		return simFailed
	}
	w.lumber.log("slot %d: depth %d value %v", index, len(path), value)
	w.Backpropagate(path, value, game.ValueUninitialized)
	w.BackpropagateMate(path)
	w.UpdatePrincipleVariation(path)
	return simCompleted
}

// predictBatch services every slot parked on the network with one
// synchronous call. A disabled network fails the parked simulations; they
// are unwound, never crashed or retried blind.
func (w *SelfPlayWorker) predictBatch(network nn.Network, networkType nn.NetworkType) {
	var indices []int
	for i := range w.states {
		if w.states[i] == WaitingForPrediction {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return
	}

	images := make([][]float32, len(indices))
	values := make([]float32, len(indices))
	policies := make([][]float32, len(indices))
	for j, i := range indices {
		images[j] = w.images[i]
		policies[j] = w.policies[i]
	}

	status := nn.PredictionSuccess
	if network == nil {
		w.PredictBatchUniform(images, values, policies)
	} else {
		status = network.PredictBatch(networkType, images, values, policies)
	}

	if status == nn.PredictionDisabled {
		for _, i := range indices {
			scratch := w.scratchGames[i]
			scratch.Root().CancelExpanding()
			w.FailNode(w.searchPaths[i])
			w.states[i] = Working
		}
		return
	}
	for j, i := range indices {
		w.values[i] = values[j]
	}
}

// PredictBatchUniform fills draw values and a flat policy, the bootstrap
// behavior before any network exists.
func (w *SelfPlayWorker) PredictBatchUniform(images [][]float32, values []float32, policies [][]float32) {
	for i := range images {
		values[i] = game.ValueDraw
		for j := range policies[i] {
			policies[i][j] = 0
		}
	}
}

func (w *SelfPlayWorker) maybeResetPredictionCache() {
	cache := w.searchState.PredictionCache()
	if cache == nil || !cache.Full() {
		return
	}
	if predictionCacheResetThrottle.TryFire() {
		w.logger.Info().Int64("hits", cache.Hits()).Int64("misses", cache.Misses()).Msg("resetting prediction cache")
		cache.Reset()
	}
}

// FailNode unwinds a simulation's virtual losses without crediting a visit.
func (w *SelfPlayWorker) FailNode(searchPath []WeightedNode) {
	for _, wn := range searchPath {
		wn.Node.RemoveVisiting()
	}
	w.searchState.AddFailedNode()
}

// Backpropagate credits the search path from leaf to root. The value arrives
// from the perspective of the player who moved into the leaf and flips each
// ply. rootValue, when not ValueUninitialized, overrides the sample applied
// at the root node.
func (w *SelfPlayWorker) Backpropagate(searchPath []WeightedNode, value float32, rootValue float32) {
	config := w.searchState.Config
	for i := len(searchPath) - 1; i >= 0; i-- {
		node := searchPath[i].Node
		node.RemoveVisiting()

		weight := searchPath[i].Weight
		if config.UseSblePuct {
			if up := node.ClaimUpWeight(); up > weight {
				weight = up
			}
		}

		sample := value
		if i == 0 && rootValue != game.ValueUninitialized {
			sample = rootValue
		}
		node.AddVisits(weight)
		node.SampleValue(config.MovingAverageBuild, config.MovingAverageCap, weight, sample)
		value = game.FlipValue(value)
	}
	w.searchState.AddNodes(1)
}

// BackpropagateMate lifts proven mates up the search path. At each parent
// the extremal outcome is re-derived over all children, not just the path
// child: a parent escaping into the slowest loss, or taking the fastest
// win, may do so through an off-path sibling.
func (w *SelfPlayWorker) BackpropagateMate(searchPath []WeightedNode) {
	for i := len(searchPath) - 2; i >= 0; i-- {
		parent := searchPath[i].Node
		updated, terminal := deriveMate(parent)
		if !updated {
			return
		}
		parent.SetTerminal(terminal)
		w.FixPrincipleVariation(searchPath, parent)
	}
}

// deriveMate computes the parent's forced outcome from its children: any
// child mating the parent's opponent gives the parent's mover a forced loss
// via the fastest such mate; all children losing for the parent's mover
// means the parent's mover mates via the slowest escape.
func deriveMate(parent *Node) (bool, TerminalValue) {
	children := parent.Children()
	if len(children) == 0 {
		return false, NonTerminal
	}

	fastest := int8(127)
	haveMate := false
	slowest := int8(0)
	allOpponentMate := true
	for i := range children {
		terminal := children[i].Terminal()
		if terminal.IsMateInN() {
			haveMate = true
			if n := terminal.MateN(); n < fastest {
				fastest = n
			}
		}
		if terminal.IsOpponentMateInN() {
			if n := terminal.OpponentMateN(); n > slowest {
				slowest = n
			}
		} else {
			allOpponentMate = false
		}
	}

	var derived TerminalValue
	switch {
	case haveMate:
		derived = OpponentMateIn(fastest)
	case allOpponentMate:
		if slowest >= 126 {
			slowest = 125
		}
		derived = MateIn(slowest + 1)
	default:
		return false, NonTerminal
	}
	if parent.Terminal() == derived {
		return false, NonTerminal
	}
	return true, derived
}

// WorseThan orders two siblings for move selection and PV maintenance:
// proven wins first (faster better), proven losses last (slower better),
// otherwise more visits, then higher value.
func (w *SelfPlayWorker) WorseThan(lhs, rhs *Node) bool {
	if lhs == nil {
		return true
	}
	if rhs == nil {
		return false
	}
	lhsRank := mateRank(lhs.Terminal())
	rhsRank := mateRank(rhs.Terminal())
	if lhsRank != rhsRank {
		return lhsRank < rhsRank
	}
	if lhs.VisitCount() != rhs.VisitCount() {
		return lhs.VisitCount() < rhs.VisitCount()
	}
	return lhs.Value() < rhs.Value()
}

func mateRank(t TerminalValue) float32 {
	if t.IsMateInN() || t.IsOpponentMateInN() {
		return t.MateScore(1)
	}
	return game.ValueDraw
}

// UpdatePrincipleVariation promotes path nodes that became the best of
// their siblings after this backpropagation.
func (w *SelfPlayWorker) UpdatePrincipleVariation(searchPath []WeightedNode) {
	changed := false
	for i := 0; i+1 < len(searchPath); i++ {
		parent := searchPath[i].Node
		child := searchPath[i+1].Node
		best := parent.BestChild()
		if best == child {
			continue
		}
		if w.WorseThan(best, child) {
			parent.SetBestChild(child)
			changed = true
		}
	}
	if changed {
		w.searchState.MarkPrincipleVariationChanged()
	}
}

// FixPrincipleVariation rescans a node's children after a proven-mate
// update, which can demote the current best child.
func (w *SelfPlayWorker) FixPrincipleVariation(searchPath []WeightedNode, node *Node) {
	children := node.Children()
	best := node.BestChild()
	fixed := best
	for i := range children {
		if w.WorseThan(fixed, &children[i]) {
			fixed = &children[i]
		}
	}
	if fixed != best {
		node.SetBestChild(fixed)
		w.searchState.MarkPrincipleVariationChanged()
	}
}

// PrincipleVariation reads the best-child chain from the root.
func (w *SelfPlayWorker) PrincipleVariation(root *Node) []game.Move {
	var pv []game.Move
	for node := root.BestChild(); node != nil; node = node.BestChild() {
		pv = append(pv, node.Move())
	}
	return pv
}

// SelectMove picks the move to play: proportional to visit counts during the
// sampling phase of self-play, otherwise the strongest child.
func (w *SelfPlayWorker) SelectMove(g *SelfPlayGame, allowDiversity bool) *Node {
	children := g.Root().Children()
	if len(children) == 0 {
		panic("mcts: SelectMove with no expanded root")
	}

	if allowDiversity && g.Ply() < w.searchState.Config.NumSampleMoves {
		var total float32
		for i := range children {
			total += float32(children[i].VisitCount())
		}
		if total > 0 {
			target := w.rand.Float32() * total
			for i := range children {
				target -= float32(children[i].VisitCount())
				if target <= 0 {
					return &children[i]
				}
			}
		}
		return &children[len(children)-1]
	}

	best := &children[0]
	for i := 1; i < len(children); i++ {
		if w.WorseThan(best, &children[i]) {
			best = &children[i]
		}
	}
	return best
}

// SaveToStorageAndLog persists a finished game and reports it.
func (w *SelfPlayWorker) SaveToStorageAndLog(index int) {
	g := w.games[index]
	stored := g.Save()
	if w.store != nil {
		if err := w.store.AddGame(stored); err != nil {
			w.logger.Error().Err(err).Msg("storing finished game")
		}
	}
	w.logger.Info().
		Int("slot", index).
		Float32("result", g.Result()).
		Int("plies", g.Ply()).
		Dur("took", time.Since(w.gameStarts[index])).
		Msg("game complete")
}

// LoopSearch joins a shared interactive search: all workers pump simulations
// into the same tree, the primary worker also polices the clock and reports
// the principal variation.
func (w *SelfPlayWorker) LoopSearch(coordinator *WorkCoordinator, network nn.Network, networkType nn.NetworkType, primary bool) {
	for coordinator.WaitForWorkItems() {
		w.searchPlay(coordinator, network, networkType, primary)
		coordinator.OnWorkerIdle()
	}
}

func (w *SelfPlayWorker) searchPlay(coordinator *WorkCoordinator, network nn.Network, networkType nn.NetworkType, primary bool) {
	g := w.searchState.Position()
	if g == nil {
		return
	}
	for !coordinator.AllWorkItemsCompleted() {
		for i := range w.states {
			if w.states[i] == Finished {
				continue
			}
			w.stepSimulation(i, g)
		}
		w.predictBatch(network, networkType)
		w.maybeResetPredictionCache()
		if primary {
			w.CheckTimeControl(coordinator)
			w.checkPrintPrincipleVariation(false)
		}
	}
	if primary {
		w.checkPrintPrincipleVariation(true)
	}
}

// CheckTimeControl stops the shared search once any budget is exhausted:
// node limit, proven mate within the requested distance, or wall clock.
func (w *SelfPlayWorker) CheckTimeControl(coordinator *WorkCoordinator) {
	searchState := w.searchState
	tc := searchState.TimeControl()
	if tc.Infinite {
		return
	}
	if tc.Nodes > 0 && searchState.NodeCount() >= int32(tc.Nodes) {
		coordinator.StopAll()
		return
	}
	g := searchState.Position()
	if g == nil {
		return
	}
	if tc.Mate > 0 {
		if t := g.Root().Terminal(); t.IsOpponentMateInN() && t.OpponentMateN() <= int8(tc.Mate) {
			coordinator.StopAll()
			return
		}
	}
	config := searchState.Config
	budget := tc.budgetMs(g.Position().ToPlay(), config.TimeSafetyBufferMs, config.FractionOfRemainingTime)
	if budget <= 0 {
		return
	}
	elapsed := searchState.Elapsed()
	if elapsed >= time.Duration(budget)*time.Millisecond {
		coordinator.StopAll()
		return
	}
	if best := g.Root().BestChild(); best != nil && best.Move() != searchState.lastBestMove {
		searchState.lastBestMove = best.Move()
		searchState.lastBestNodes = searchState.NodeCount()
	}
	// Bank the remaining time once the best move has held for the majority
	// of the nodes searched and half the budget is gone.
	if elapsed >= time.Duration(budget)*time.Millisecond/2 {
		if nodes := searchState.NodeCount(); nodes > 0 &&
			searchState.lastBestMove != 0 &&
			searchState.lastBestNodes*2 <= nodes {
			coordinator.StopAll()
		}
	}
}

func (w *SelfPlayWorker) checkPrintPrincipleVariation(force bool) {
	searchState := w.searchState
	g := searchState.Position()
	if g == nil {
		return
	}
	if !force {
		if !searchState.PrincipleVariationChanged() {
			return
		}
		if time.Since(searchState.lastPrincipleVariationPrint) < time.Second {
			return
		}
	}
	if !searchState.ClaimPrincipleVariationChanged() && !force {
		return
	}
	interval := time.Since(searchState.lastPrincipleVariationPrint)
	searchState.lastPrincipleVariationPrint = time.Now()

	nodes := searchState.NodeCount()
	var nps int64
	if interval > 0 && interval < searchState.Elapsed()+time.Second {
		nps = int64(float64(nodes-searchState.previousNodeCount) / interval.Seconds())
	}
	searchState.previousNodeCount = nodes

	pv := w.PrincipleVariation(g.Root())
	line := make([]string, len(pv))
	for i, move := range pv {
		line[i] = move.String()
	}
	w.logger.Info().
		Int32("nodes", nodes).
		Int64("nps", nps).
		Dur("elapsed", searchState.Elapsed()).
		Float32("value", g.CalculateMctsValue()).
		Str("pv", strings.Join(line, " ")).
		Msg("principal variation")
}

// DebugGame exposes a slot's internals for tests and tooling.
func (w *SelfPlayWorker) DebugGame(index int) (*SelfPlayGame, *SelfPlayState, *float32, []float32) {
	return w.games[index], &w.states[index], &w.values[index], w.policies[index]
}

func (w *SelfPlayWorker) String() string {
	return fmt.Sprintf("SelfPlayWorker{slots: %d}", len(w.games))
}
