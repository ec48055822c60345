package mcts

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDot(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()
	expand(t, g, searchState, 0.5)

	children := g.Root().Children()
	children[0].AddVisits(3)
	children[0].SampleValue(1, math.MaxFloat32, 3, 0.6)
	g.Root().AddVisits(3)

	dot := ToDot(g.Root(), 2)
	assert.True(t, strings.HasPrefix(dot, "digraph G"))
	assert.Contains(t, dot, "root")
	assert.Contains(t, dot, children[0].Move().String())
	// Only the visited child is drawn: one edge from the root.
	assert.Equal(t, 1, strings.Count(dot, "->"))
}

func TestToDotDepthLimit(t *testing.T) {
	searchState := testSearchState()
	buffers := newSlotBuffers()
	g := buffers.game()
	expand(t, g, searchState, 0.5)
	for i := range g.Root().Children() {
		g.Root().Children()[i].AddVisits(1)
	}

	dot := ToDot(g.Root(), 0)
	assert.NotContains(t, dot, "->", "depth zero draws the root alone")
}
