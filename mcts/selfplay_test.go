package mcts

import (
	"math"
	"testing"

	"github.com/leesper/go_rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temposearch/tempo/game"
)

type slotBuffers struct {
	image       []float32
	value       float32
	policy      []float32
	cardinality int
}

func newSlotBuffers() *slotBuffers {
	return &slotBuffers{
		image:       game.NewImage(),
		policy:      game.NewPolicy(),
		cardinality: freshTablebaseCardinality,
	}
}

func (b *slotBuffers) game() *SelfPlayGame {
	return NewSelfPlayGame(b.image, &b.value, b.policy, &b.cardinality)
}

func (b *slotBuffers) gameFEN(t *testing.T, fen string) *SelfPlayGame {
	t.Helper()
	g, err := NewSelfPlayGameFEN(fen, nil, true, b.image, &b.value, b.policy, &b.cardinality)
	require.NoError(t, err)
	return g
}

// expand drives one leaf through the suspend/resume expansion cycle using
// the supplied network value for the side to move.
func expand(t *testing.T, g *SelfPlayGame, searchState *SearchState, value float32) float32 {
	t.Helper()
	state := Working
	var cacheStore *PredictionCacheChunk

	result := g.ExpandAndEvaluate(&state, &cacheStore, searchState, true)
	if state != WaitingForPrediction {
		return result
	}
	*g.value = value
	return g.ExpandAndEvaluate(&state, &cacheStore, searchState, true)
}

func TestExpandAndEvaluateStartingPosition(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()

	state := Working
	var cacheStore *PredictionCacheChunk
	result := g.ExpandAndEvaluate(&state, &cacheStore, searchState, true)
	require.Equal(t, WaitingForPrediction, state, "fresh leaf must suspend for the network")
	assert.Equal(t, game.ValueUninitialized, result)

	buffers.value = 0.7
	result = g.ExpandAndEvaluate(&state, &cacheStore, searchState, true)
	assert.Equal(t, Working, state)
	// The network scored the side to move; the node holds the mover's view.
	assert.InDelta(t, 0.3, result, 1e-6)

	root := g.Root()
	require.True(t, root.IsExpanded())
	assert.Equal(t, 20, root.ChildCount())

	var sum float32
	for _, child := range root.Children() {
		assert.Greater(t, child.Prior(), float32(0))
		sum += child.Prior()
	}
	assert.InDelta(t, 1.0, sum, 1e-4, "zero logits softmax to uniform priors")
}

func TestExpandAndEvaluateCheckmate(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	// Fool's mate: white is checkmated.
	g := buffers.gameFEN(t, "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")

	result := expand(t, g, searchState, 0)
	assert.Equal(t, game.ValueWin, result, "the mating side moved into this node")
	assert.True(t, g.Root().Terminal().IsMateInN())
	assert.True(t, g.Root().IsExpanded())
	assert.Equal(t, 0, g.Root().ChildCount())
}

func TestExpandAndEvaluateStalemate(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.gameFEN(t, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")

	result := expand(t, g, searchState, 0)
	assert.Equal(t, game.ValueDraw, result)
	assert.True(t, g.Root().Terminal().IsDraw())
}

func TestExpandAndEvaluateLostExpansionClaim(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()

	// Another worker holds the claim and has not published yet.
	require.True(t, g.Root().TryStartExpanding())

	state := Working
	var cacheStore *PredictionCacheChunk
	result := g.ExpandAndEvaluate(&state, &cacheStore, searchState, true)
	assert.Equal(t, game.ValueUninitialized, result)
	assert.Equal(t, Working, state)
}

func TestTwofoldRepetitionDrawsInsideSearch(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.gameFEN(t, "4k3/8/8/8/8/8/8/4K2R w - - 0 1")
	g.UpdateSearchRootPly()

	shadow := g.SpawnShadow(buffers.image, &buffers.value, buffers.policy)
	for _, san := range []string{"Rh2", "Ke7", "Rh1", "Ke8"} {
		move, err := shadow.ParseSAN(san)
		require.NoError(t, err)
		require.NoError(t, shadow.position.Apply(move))
	}
	shadow.root = new(Node)

	result := expand(t, shadow, searchState, 0.9)
	assert.Equal(t, game.ValueDraw, result, "second occurrence since the root is already decided")
	assert.True(t, shadow.Root().Terminal().IsDraw())
}

func TestPredictionCacheRoundTrip(t *testing.T) {
	searchState := testSearchState()
	cache := NewPredictionCache(16)
	searchState.SetPredictionCache(cache)

	first := newSlotBuffers()
	g1 := first.game()
	value := expand(t, g1, searchState, 0.7)

	second := newSlotBuffers()
	g2 := second.game()
	state := Working
	var cacheStore *PredictionCacheChunk
	cached := g2.ExpandAndEvaluate(&state, &cacheStore, searchState, true)

	assert.Equal(t, Working, state, "cache hit expands without suspending")
	assert.InDelta(t, value, cached, 1e-6)
	require.True(t, g2.Root().IsExpanded())
	assert.Equal(t, g1.Root().ChildCount(), g2.Root().ChildCount())
	assert.Equal(t, int64(1), cache.Hits())
}

func TestSoftmax(t *testing.T) {
	g := newSlotBuffers().game()

	dist := []float32{1, 2, 3}
	g.Softmax(dist)
	var sum float32
	for _, v := range dist {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, dist[2], dist[1])
	assert.Greater(t, dist[1], dist[0])

	// Large logits must not overflow.
	big := []float32{1000, 1000}
	g.Softmax(big)
	assert.InDelta(t, 0.5, big[0], 1e-6)
	assert.InDelta(t, 0.5, big[1], 1e-6)
}

func TestAddExplorationNoise(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()
	expand(t, g, searchState, 0.5)

	before := make([]float32, g.Root().ChildCount())
	for i, child := range g.Root().Children() {
		before[i] = child.Prior()
	}

	gamma := rng.NewGammaGenerator(42)
	g.AddExplorationNoise(gamma, 0.3, 0.25)

	var sum float32
	changed := false
	for i, child := range g.Root().Children() {
		assert.Greater(t, child.Prior(), float32(0))
		if child.Prior() != before[i] {
			changed = true
		}
		sum += child.Prior()
	}
	assert.True(t, changed)
	assert.InDelta(t, 1.0, sum, 1e-4, "noise preserves normalization")
}

func TestCompleteResults(t *testing.T) {
	buffers := newSlotBuffers()

	// Black delivered fool's mate; result is from white's perspective.
	mated := buffers.gameFEN(t, "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	mated.Complete()
	assert.Equal(t, game.ValueLose, mated.Result())

	stalemate := buffers.gameFEN(t, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	stalemate.Complete()
	assert.Equal(t, game.ValueDraw, stalemate.Result())
}

func TestStoreSearchStatisticsAndSave(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()
	expand(t, g, searchState, 0.6)

	children := g.Root().Children()
	children[0].AddVisits(3)
	children[1].AddVisits(1)
	g.Root().AddVisits(4)
	g.Root().SampleValue(1, math.MaxFloat32, 4, 0.25)

	g.StoreSearchStatistics()
	best := &children[0]
	require.NoError(t, g.ApplyMoveWithRoot(best.Move(), best))

	g.Complete()
	stored := g.Save()
	require.Len(t, stored.Moves, 1)
	require.Len(t, stored.ChildVisits, 1)
	require.Len(t, stored.MctsValues, 1)
	assert.InDelta(t, 0.75, stored.ChildVisits[0][stored.Moves[0]], 1e-6)
	// Root value is the mover's view; training wants the side to move's.
	assert.InDelta(t, 0.75, stored.MctsValues[0], 1e-6)
}

func TestPruneExceptPoisonsSiblings(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()
	expand(t, g, searchState, 0.5)

	children := g.Root().Children()
	keep := &children[0]
	sibling := &children[1]

	oldRoot := g.Root()
	require.NoError(t, g.ApplyMoveWithRoot(keep.Move(), keep))
	g.PruneExcept(oldRoot, keep)

	assert.Same(t, keep, g.Root())
	assert.Equal(t, ExpansionNone, oldRoot.ExpansionState())
	assert.Nil(t, sibling.Children())
	assert.Equal(t, 0, sibling.ChildCount())
}

func TestShouldProbeTablebases(t *testing.T) {
	config := DefaultConfig()
	config.MaxTablebaseCardinality = 5
	config.MaxTablebasePly = 1
	searchState := NewSearchState(&config)

	buffers := newSlotBuffers()
	g := buffers.gameFEN(t, "4k3/8/8/8/8/3Q4/8/4K3 w - - 0 1")
	assert.True(t, g.ShouldProbeTablebases(searchState), "three pieces at the search root")

	// Two plies below the root is past the probe depth.
	for _, san := range []string{"Qd4", "Ke7"} {
		move, err := g.Position().ParseSAN(san)
		require.NoError(t, err)
		g.Position().ApplyMove(move)
	}
	assert.False(t, g.ShouldProbeTablebases(searchState))

	// Advancing the root brings the position back inside the depth.
	g.UpdateSearchRootPly()
	assert.True(t, g.ShouldProbeTablebases(searchState))

	// A probe records the piece count; nothing re-probes until it drops.
	buffers.cardinality = g.Position().PieceCount()
	assert.False(t, g.ShouldProbeTablebases(searchState))

	config.MaxTablebaseCardinality = 0
	assert.False(t, g.ShouldProbeTablebases(searchState), "zero cardinality disables probing")
}
