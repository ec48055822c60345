package mcts

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/temposearch/tempo/game"
)

// WeightedNode is one step of a simulation's search path, recording how much
// visit weight to credit during backpropagation.
type WeightedNode struct {
	Node   *Node
	Weight int32
}

// PuctContext prices the children of one parent for selection. It is built
// per descent step so the parent-level terms are computed once per selection
// rather than once per child.
type PuctContext struct {
	config                   *Config
	parent                   *Node
	parentVirtualExploration float32
	explorationRate          float32
	explorationNumerator     float32
	eliminationTopCount      int
	linearExplorationRate    float32
	linearExplorationBase    float32
	searchMoves              []game.Move
}

// NewPuctContext prepares selection over parent's children. The elimination
// count is nonzero only at a search root that has accumulated enough visits
// under a time control that requests progressive candidate elimination.
func NewPuctContext(searchState *SearchState, parent *Node) *PuctContext {
	config := searchState.Config
	parentVisits := float32(parent.VisitCount())

	// C(N) grows logarithmically with parent visits.
	explorationRate := math32.Log((parentVisits+config.ExplorationRateBase+1)/config.ExplorationRateBase) +
		config.ExplorationRateInit

	context := &PuctContext{
		config:                   config,
		parent:                   parent,
		parentVirtualExploration: virtualExploration(config, parent),
		explorationRate:          explorationRate,
		linearExplorationRate:    config.LinearExplorationRate,
		linearExplorationBase:    config.LinearExplorationBase,
	}
	context.explorationNumerator = explorationRate *
		math32.Sqrt(parentVisits+context.parentVirtualExploration)

	if len(searchState.searchMoves) > 0 && parent == rootOf(searchState) {
		context.searchMoves = searchState.searchMoves
	}

	timeControl := searchState.TimeControl()
	if timeControl.EliminationRootVisitCount > 0 &&
		parent == rootOf(searchState) &&
		parent.VisitCount() >= int32(timeControl.EliminationRootVisitCount) {
		keep := int(math32.Ceil(float32(parent.ChildCount()) * timeControl.EliminationFraction))
		if keep < 1 {
			keep = 1
		}
		if keep < parent.ChildCount() {
			context.eliminationTopCount = keep
		}
	}
	return context
}

func rootOf(searchState *SearchState) *Node {
	if position := searchState.Position(); position != nil {
		return position.Root()
	}
	return nil
}

func virtualExploration(config *Config, node *Node) float32 {
	return float32(node.VisitingCount()) * config.VirtualLossCoefficient
}

// SelectChild picks the child maximizing the PUCT score, applies virtual loss
// to it, and reports the backprop weight for this traversal. Ties keep the
// earliest child, so repeated selection over identical scores is
// deterministic.
func (p *PuctContext) SelectChild() WeightedNode {
	children := p.parent.Children()
	threshold := p.eliminationThreshold(children)

	var best *Node
	bestScore := math32.Inf(-1)
	for i := range children {
		child := &children[i]
		if child.VisitCount() < threshold {
			continue
		}
		if !p.moveAllowed(child.Move()) {
			continue
		}
		score := p.score(child)
		if score > bestScore {
			bestScore = score
			best = child
		}
	}
	if best == nil && len(p.searchMoves) > 0 {
		// Restriction matched no legal move; search unrestricted rather
		// than stall.
		for i := range children {
			child := &children[i]
			if child.VisitCount() < threshold {
				continue
			}
			if score := p.score(child); score > bestScore {
				bestScore = score
				best = child
			}
		}
	}
	if best == nil {
		panic("mcts: SelectChild on a node with no children")
	}

	weight := int32(1)
	if p.config.UseSblePuct && best.ValueWeight() == 0 {
		best.MarkUpWeight()
	}
	best.AddVisiting()
	return WeightedNode{Node: best, Weight: weight}
}

// moveAllowed applies the root "searchmoves" restriction. Non-root contexts
// carry no restriction.
func (p *PuctContext) moveAllowed(move game.Move) bool {
	if len(p.searchMoves) == 0 {
		return true
	}
	for _, allowed := range p.searchMoves {
		if allowed == move {
			return true
		}
	}
	return false
}

// eliminationThreshold returns the minimum visit count a child must carry to
// stay eligible once root elimination is active, or math.MinInt32 when every
// child remains in play.
func (p *PuctContext) eliminationThreshold(children []Node) int32 {
	if p.eliminationTopCount == 0 || p.eliminationTopCount >= len(children) {
		return -1 << 31
	}
	visits := make([]int32, len(children))
	for i := range children {
		visits[i] = children[i].VisitCount()
	}
	sort.Slice(visits, func(i, j int) bool { return visits[i] > visits[j] })
	return visits[p.eliminationTopCount-1]
}

func (p *PuctContext) score(child *Node) float32 {
	childVirtualExploration := virtualExploration(p.config, child)
	azScore := p.azPuctScore(child, childVirtualExploration)
	if p.config.UseSblePuct {
		return p.sblePuctScore(child, azScore, childVirtualExploration)
	}
	return azScore
}

// azPuctScore is the AlphaZero selection score from the parent's
// perspective: the child's (virtual-loss-adjusted) value plus the prior-
// weighted exploration bonus. Forced mates replace the value term with a
// score outside the ordinary [0, 1] band so they dominate selection.
func (p *PuctContext) azPuctScore(child *Node, childVirtualExploration float32) float32 {
	terminal := child.Terminal()
	if terminal.IsMateInN() || terminal.IsOpponentMateInN() {
		return terminal.MateScore(p.explorationRate)
	}

	prior := child.Prior()
	exploration := p.explorationNumerator * prior /
		(1 + float32(child.VisitCount()) + childVirtualExploration)

	value := child.ValueWithVirtualLoss()
	if child.ValueWeight() == 0 && terminal.IsNonTerminal() {
		// First play urgency: unvisited children are priced as losses so the
		// prior term alone drives their first selection.
		value = 0
	}
	return value + exploration
}

// sblePuctScore blends a linear exploration term into the AZ score, damping
// over-exploration of low-prior children once the parent has accumulated many
// visits.
func (p *PuctContext) sblePuctScore(child *Node, azScore, childVirtualExploration float32) float32 {
	parentVisits := float32(p.parent.VisitCount()) + p.parentVirtualExploration
	childVisits := float32(child.VisitCount()) + childVirtualExploration
	linear := child.ValueWithVirtualLoss() +
		p.linearExplorationRate*child.Prior()*(1-childVisits/(parentVisits+p.linearExplorationBase))
	return (azScore + linear) / 2
}

// PuctScoreAdHoc prices a single child outside a selection sweep, for
// diagnostics and tree dumps.
func (p *PuctContext) PuctScoreAdHoc(child *Node) float32 {
	return p.score(child)
}
