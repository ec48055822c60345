package mcts

import (
	"github.com/chewxy/math32"
	"github.com/leesper/go_rng"
	"github.com/pkg/errors"

	"github.com/temposearch/tempo/game"
	"github.com/temposearch/tempo/storage"
)

// TablebaseProber answers endgame-database lookups. Scores are from the
// perspective of the player who moved into the position, matching Node
// value conventions.
type TablebaseProber interface {
	Probe(position *game.Position) (score float32, bound Bound, ok bool)
}

// SelfPlayGame couples a chess position with its search tree and the slot
// buffers used to talk to the network. The same type serves real games
// (which accumulate history and statistics) and scratch games (shadows used
// to walk the tree during one simulation).
type SelfPlayGame struct {
	position *game.Position
	root     *Node
	tryHard  bool

	// Slot buffers shared with the owning worker.
	image                []float32
	value                *float32
	policy               []float32
	tablebaseCardinality *int

	searchRootPly int

	// Stored history and statistics, real games only.
	mctsValues  []float32
	childVisits []map[game.Move]float32
	result      float32

	// Coroutine state carried across a prediction round-trip.
	expandMoves  []game.Move
	imageKey     uint64
	cachedPriors []float32
}

// NewSelfPlayGame starts a fresh game at the standard position.
func NewSelfPlayGame(image []float32, value *float32, policy []float32, tablebaseCardinality *int) *SelfPlayGame {
	return &SelfPlayGame{
		position:             game.NewPosition(),
		root:                 new(Node),
		image:                image,
		value:                value,
		policy:               policy,
		tablebaseCardinality: tablebaseCardinality,
		result:               game.ValueUninitialized,
	}
}

// NewSelfPlayGameFEN starts from an arbitrary position with optional setup
// moves, as used by interactive search and strength tests.
func NewSelfPlayGameFEN(fen string, moves []game.Move, tryHard bool, image []float32, value *float32, policy []float32, tablebaseCardinality *int) (*SelfPlayGame, error) {
	position, err := game.NewPositionFEN(fen)
	if err != nil {
		return nil, err
	}
	for _, move := range moves {
		if err := position.Apply(move); err != nil {
			return nil, errors.Wrapf(err, "applying setup move %v", move)
		}
	}
	g := &SelfPlayGame{
		position:             position,
		root:                 new(Node),
		tryHard:              tryHard,
		image:                image,
		value:                value,
		policy:               policy,
		tablebaseCardinality: tablebaseCardinality,
		result:               game.ValueUninitialized,
	}
	g.UpdateSearchRootPly()
	return g, nil
}

// SpawnShadow clones the position for one simulation's descent while sharing
// the search tree. Shadows never record history or statistics.
func (g *SelfPlayGame) SpawnShadow(image []float32, value *float32, policy []float32) *SelfPlayGame {
	return &SelfPlayGame{
		position:             g.position.Clone(),
		root:                 g.root,
		tryHard:              g.tryHard,
		image:                image,
		value:                value,
		policy:               policy,
		tablebaseCardinality: g.tablebaseCardinality,
		searchRootPly:        g.searchRootPly,
	}
}

func (g *SelfPlayGame) Root() *Node              { return g.root }
func (g *SelfPlayGame) Position() *game.Position { return g.position }
func (g *SelfPlayGame) Result() float32          { return g.result }
func (g *SelfPlayGame) TryHard() bool            { return g.tryHard }
func (g *SelfPlayGame) Ply() int                 { return g.position.Ply() }

func (g *SelfPlayGame) UpdateSearchRootPly() { g.searchRootPly = g.position.Ply() }

// ApplyMoveWithRoot plays a move on the board and re-roots the tree at the
// corresponding child.
func (g *SelfPlayGame) ApplyMoveWithRoot(move game.Move, newRoot *Node) error {
	if err := g.position.Apply(move); err != nil {
		return err
	}
	g.root = newRoot
	return nil
}

// descend follows an already-selected child inside one simulation.
func (g *SelfPlayGame) descend(child *Node) error {
	if err := g.position.Apply(child.Move()); err != nil {
		return err
	}
	g.root = child
	return nil
}

// ExpandAndEvaluate drives one leaf through the expansion state machine.
// The returned value is from the perspective of the player who moved into
// the leaf, matching Node conventions. game.ValueUninitialized signals a
// failed simulation (another worker owns the expansion, or the network is
// disabled); the caller must unwind via FailNode.
//
// On a cache miss the slot transitions to WaitingForPrediction with the
// image buffer filled and returns without a value; the worker resumes the
// slot through the same call once the batch completes.
func (g *SelfPlayGame) ExpandAndEvaluate(state *SelfPlayState, cacheStore **PredictionCacheChunk, searchState *SearchState, isSearchRoot bool) float32 {
	node := g.root
	if *state == WaitingForPrediction {
		return g.FinishExpanding(state, cacheStore, searchState, isSearchRoot, len(g.expandMoves), *g.value)
	}

	if terminal := node.Terminal(); !terminal.IsNonTerminal() {
		return terminal.ImmediateValue()
	}

	// Positions repeated since the search root score as draws without
	// expanding: the rules only draw on the third occurrence, but inside
	// the tree the second is already decided and searching past it loops.
	if !isSearchRoot && g.IsDrawByTwofoldRepetition(g.position.Ply()-g.searchRootPly) {
		node.SetTerminal(Draw())
		return game.ValueDraw
	}

	if !node.TryStartExpanding() {
		if node.IsExpanded() {
			return node.Value()
		}
		return game.ValueUninitialized
	}

	status := g.position.ComputeStatus()
	if status != game.StatusOngoing {
		terminal := Draw()
		if status == game.StatusCheckmate {
			terminal = MateIn(1)
		}
		node.SetTerminal(terminal)
		node.SetChildren(nil)
		node.SetExpanded()
		return terminal.ImmediateValue()
	}

	if g.ShouldProbeTablebases(searchState) {
		if prober := searchState.Tablebases(); prober != nil {
			if score, bound, ok := prober.Probe(g.position); ok {
				node.SetTablebaseScoreBound(score, bound)
				*g.tablebaseCardinality = g.position.PieceCount()
				searchState.AddTablebaseHit()
			}
		}
	}

	legal := g.position.LegalMoves()
	g.expandMoves = g.expandMoves[:0]
	for _, m := range legal {
		g.expandMoves = append(g.expandMoves, game.PackMove(m))
	}

	*cacheStore = nil
	if cache := searchState.PredictionCache(); cache != nil && g.position.Ply() <= searchState.Config.PredictionCacheMaxPly {
		g.imageKey = g.position.Hash()
		chunk, value, priors, ok := cache.TryGetPrediction(g.imageKey, len(g.expandMoves))
		if ok {
			g.Expand(g.expandMoves, priors)
			return node.TablebaseBoundedValue(value)
		}
		*cacheStore = chunk
	}

	game.GenerateImageInto(g.image, g.position)
	*state = WaitingForPrediction
	return game.ValueUninitialized
}

// FinishExpanding resumes after the network produced a raw (value, policy)
// pair: priors are gathered over legal moves only, softmax-normalized, the
// children are published, and the entry is cached for other workers.
func (g *SelfPlayGame) FinishExpanding(state *SelfPlayState, cacheStore **PredictionCacheChunk, searchState *SearchState, isSearchRoot bool, moveCount int, value float32) float32 {
	node := g.root
	toPlay := g.position.ToPlay()

	if cap(g.cachedPriors) < moveCount {
		g.cachedPriors = make([]float32, moveCount)
	}
	priors := g.cachedPriors[:moveCount]
	for i, move := range g.expandMoves {
		priors[i] = game.PolicyValue(g.policy, toPlay, move)
	}
	g.Softmax(priors)

	g.Expand(g.expandMoves, priors)

	if *cacheStore != nil {
		stored := make([]float32, moveCount)
		copy(stored, priors)
		(*cacheStore).Put(g.imageKey, game.FlipValue(value), stored)
		if cache := searchState.PredictionCache(); cache != nil {
			cache.CountPut()
		}
		*cacheStore = nil
	}

	*state = Working
	// The network scores the side to move; the node holds the mover's view.
	return node.TablebaseBoundedValue(game.FlipValue(value))
}

// Expand publishes the children array with the given priors.
func (g *SelfPlayGame) Expand(moves []game.Move, priors []float32) {
	node := g.root
	node.SetChildren(NewChildren(moves, priors))
	node.SetExpanded()
}

// Softmax normalizes raw policy logits over the legal moves, in place.
func (g *SelfPlayGame) Softmax(distribution []float32) {
	if len(distribution) == 0 {
		return
	}
	max := distribution[0]
	for _, v := range distribution[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range distribution {
		e := math32.Exp(v - max)
		distribution[i] = e
		sum += e
	}
	for i := range distribution {
		distribution[i] /= sum
	}
}

// IsDrawByTwofoldRepetition reports whether the current position already
// occurred since the search root. Scoped to the search on purpose: over the
// whole game only threefold draws by rule, and ComputeStatus covers that.
func (g *SelfPlayGame) IsDrawByTwofoldRepetition(plyToSearchRoot int) bool {
	return g.position.IsRepeatedSince(plyToSearchRoot)
}

// AddExplorationNoise perturbs the root priors with Dirichlet noise so
// self-play explores beyond the raw policy.
func (g *SelfPlayGame) AddExplorationNoise(gamma *rng.GammaGenerator, alpha, fraction float32) {
	children := g.root.Children()
	if len(children) == 0 || fraction <= 0 {
		return
	}
	noise := make([]float32, len(children))
	var sum float32
	for i := range noise {
		sample := float32(gamma.Gamma(float64(alpha), 1))
		noise[i] = sample
		sum += sample
	}
	if sum <= 0 {
		return
	}
	for i := range children {
		child := &children[i]
		child.prior = child.prior*(1-fraction) + (noise[i]/sum)*fraction
	}
}

// ShouldProbeTablebases gates probing on configuration: the leaf must sit
// within the probe ply depth of the search root, and the piece count must
// have dropped since the last probe for this game.
func (g *SelfPlayGame) ShouldProbeTablebases(searchState *SearchState) bool {
	max := searchState.Config.MaxTablebaseCardinality
	if max <= 0 || g.tablebaseCardinality == nil {
		return false
	}
	if g.position.Ply()-g.searchRootPly > searchState.Config.MaxTablebasePly {
		return false
	}
	count := g.position.PieceCount()
	return count <= max && count < *g.tablebaseCardinality
}

// CalculateMctsValue is the root's search value from the perspective of the
// side to move, the form the network trains against.
func (g *SelfPlayGame) CalculateMctsValue() float32 {
	return game.FlipValue(g.root.Value())
}

// StoreSearchStatistics snapshots the root visit distribution and search
// value before the chosen move is played.
func (g *SelfPlayGame) StoreSearchStatistics() {
	root := g.root
	children := root.Children()
	var sum float32
	for i := range children {
		sum += float32(children[i].VisitCount())
	}
	visits := make(map[game.Move]float32, len(children))
	if sum > 0 {
		for i := range children {
			if count := children[i].VisitCount(); count > 0 {
				visits[children[i].Move()] = float32(count) / sum
			}
		}
	}
	g.childVisits = append(g.childVisits, visits)
	g.mctsValues = append(g.mctsValues, g.CalculateMctsValue())
}

// Complete fixes the game result once no more moves will be played. Ongoing
// positions (move-limit adjudication) count as draws.
func (g *SelfPlayGame) Complete() {
	status := g.position.ComputeStatus()
	value := game.ValueDraw
	if status == game.StatusCheckmate {
		value = game.ValueLose
	}
	g.result = game.FlipValueToPlay(g.position.ToPlay(), value)
}

// Save reduces the finished game to its training representation.
func (g *SelfPlayGame) Save() storage.StoredGame {
	return storage.StoredGame{
		Result:      g.result,
		Moves:       append([]game.Move(nil), g.position.Moves()...),
		ChildVisits: g.childVisits,
		MctsValues:  g.mctsValues,
	}
}

// PruneExcept releases every subtree under oldRoot other than the child the
// game advanced into. The surviving child's siblings are poisoned so stale
// references fail fast instead of reading reused state.
func (g *SelfPlayGame) PruneExcept(oldRoot, except *Node) {
	children := oldRoot.Children()
	for i := range children {
		if &children[i] != except {
			pruneAllInternal(&children[i])
		}
	}
	oldRoot.detach()
}

// PruneAll releases the entire tree under the current root.
func (g *SelfPlayGame) PruneAll() {
	pruneAllInternal(g.root)
}

func pruneAllInternal(root *Node) {
	children := root.Children()
	for i := range children {
		pruneAllInternal(&children[i])
	}
	root.detach()
}

// ParseSAN resolves standard algebraic notation against the current
// position.
func (g *SelfPlayGame) ParseSAN(san string) (game.Move, error) {
	move, err := g.position.ParseSAN(san)
	if err != nil {
		return 0, err
	}
	return game.PackMove(move), nil
}
