package mcts

import (
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"

	"github.com/temposearch/tempo/game"
)

func TestBudgetMsMoveTime(t *testing.T) {
	tc := TimeControl{MoveTimeMs: 1000}
	assert.Equal(t, int64(900), tc.budgetMs(chess.White, 100, 0.05))
}

func TestBudgetMsInfinite(t *testing.T) {
	tc := TimeControl{Infinite: true, MoveTimeMs: 1000}
	assert.Equal(t, int64(0), tc.budgetMs(chess.White, 100, 0.05))
}

func TestBudgetMsRemainingTime(t *testing.T) {
	tc := TimeControl{
		TimeRemainingMs: [2]int64{60000, 30000},
		IncrementMs:     [2]int64{1000, 500},
	}
	// 5% of remaining plus increment minus the safety buffer.
	assert.Equal(t, int64(3900), tc.budgetMs(chess.White, 100, 0.05))
	assert.Equal(t, int64(1900), tc.budgetMs(chess.Black, 100, 0.05))
}

func TestBudgetMsMovesToGo(t *testing.T) {
	tc := TimeControl{
		TimeRemainingMs: [2]int64{60000, 60000},
		MovesToGo:       2,
	}
	// Per-move division dominates the flat fraction near time control.
	assert.Equal(t, int64(29900), tc.budgetMs(chess.White, 100, 0.05))
}

func TestBudgetMsNeverNonPositiveWithTimeLeft(t *testing.T) {
	tc := TimeControl{TimeRemainingMs: [2]int64{50, 50}}
	assert.Equal(t, int64(1), tc.budgetMs(chess.White, 100, 0.05))
}

func TestSimulationLimitFastPlay(t *testing.T) {
	config := DefaultConfig()
	config.FastPlayFraction = 0.25
	config.SimulationLimit = 800
	config.FastSimulationLimit = 150

	assert.Equal(t, 150, config.simulationLimit(0.1))
	assert.Equal(t, 800, config.simulationLimit(0.9))

	config.FastPlayFraction = 0
	assert.Equal(t, 800, config.simulationLimit(0.1))
}

func TestSearchStateReset(t *testing.T) {
	state := testSearchState()
	state.AddNodes(5)
	state.AddFailedNode()
	state.AddTablebaseHit()
	state.MarkPrincipleVariationChanged()
	state.SetSearchMoves([]game.Move{1})

	state.Reset(TimeControl{Nodes: 100})
	assert.Empty(t, state.SearchMoves())
	assert.Equal(t, int32(0), state.NodeCount())
	assert.Equal(t, int32(0), state.FailedNodeCount())
	assert.Equal(t, int32(0), state.TablebaseHitCount())
	assert.False(t, state.ClaimPrincipleVariationChanged())
	assert.Equal(t, 100, state.TimeControl().Nodes)
}

func TestResetAppliesConfiguredElimination(t *testing.T) {
	config := DefaultConfig()
	config.EliminationRootVisits = 64
	config.EliminationFraction = 0.25
	state := NewSearchState(&config)

	state.Reset(TimeControl{Infinite: true})
	assert.Equal(t, 64, state.TimeControl().EliminationRootVisitCount)
	assert.Equal(t, float32(0.25), state.TimeControl().EliminationFraction)

	// An explicit request wins over the configured default.
	state.Reset(TimeControl{EliminationRootVisitCount: 10, EliminationFraction: 0.5})
	assert.Equal(t, 10, state.TimeControl().EliminationRootVisitCount)
}

func TestClaimPrincipleVariationChanged(t *testing.T) {
	state := testSearchState()
	assert.False(t, state.ClaimPrincipleVariationChanged())
	state.MarkPrincipleVariationChanged()
	assert.True(t, state.ClaimPrincipleVariationChanged())
	assert.False(t, state.ClaimPrincipleVariationChanged(), "claim consumes the flag")
}
