package mcts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temposearch/tempo/game"
)

func TestTerminalValueClassification(t *testing.T) {
	assert.True(t, NonTerminal.IsNonTerminal())
	assert.False(t, NonTerminal.IsDraw())

	draw := Draw()
	assert.True(t, draw.IsDraw())
	assert.True(t, draw.IsImmediate())
	assert.Equal(t, game.ValueDraw, draw.ImmediateValue())

	mate := MateIn(1)
	assert.True(t, mate.IsMateInN())
	assert.True(t, mate.IsImmediate())
	assert.Equal(t, game.ValueWin, mate.ImmediateValue())
	assert.Equal(t, int8(1), mate.MateN())

	deep := MateIn(4)
	assert.True(t, deep.IsMateInN())
	assert.False(t, deep.IsImmediate())

	losing := OpponentMateIn(3)
	assert.True(t, losing.IsOpponentMateInN())
	assert.Equal(t, int8(3), losing.OpponentMateN())
	assert.Equal(t, int8(-3), losing.EitherMateN())
}

func TestMateScoreOrdering(t *testing.T) {
	const rate = float32(1.75)

	// Faster wins score higher, slower losses score higher.
	assert.Greater(t, MateIn(1).MateScore(rate), MateIn(2).MateScore(rate))
	assert.Greater(t, MateIn(2).MateScore(rate), MateIn(5).MateScore(rate))
	assert.Greater(t, OpponentMateIn(5).MateScore(rate), OpponentMateIn(2).MateScore(rate))

	// Every win outscores any value in [0, 1], every loss scores below.
	assert.Greater(t, MateIn(125).MateScore(rate), game.ValueWin)
	assert.Less(t, OpponentMateIn(125).MateScore(rate), game.ValueLose)
}

func TestTerminalPackRoundTrip(t *testing.T) {
	cases := []TerminalValue{
		NonTerminal,
		Draw(),
		MateIn(1),
		MateIn(125),
		OpponentMateIn(1),
		OpponentMateIn(125),
	}
	for _, want := range cases {
		got := unpackTerminal(packTerminal(want))
		require.Equal(t, want, got)
	}
}
