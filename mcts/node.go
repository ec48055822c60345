package mcts

import (
	"sync/atomic"
	"unsafe"

	"github.com/chewxy/math32"

	"github.com/temposearch/tempo/game"
)

// Expansion is the lifecycle tag of a node's children array. Transitions are
// one-way except for a failed expansion, which backs off Expanding to None.
type Expansion uint32

const (
	ExpansionNone Expansion = iota
	ExpansionExpanding
	ExpansionExpanded
)

func (e Expansion) String() string {
	switch e {
	case ExpansionNone:
		return "None"
	case ExpansionExpanding:
		return "Expanding"
	case ExpansionExpanded:
		return "Expanded"
	}
	return "UNKNOWN EXPANSION"
}

// Bound qualifies a tablebase score: exact, or a one-sided bound that clips
// the search value rather than replacing it.
type Bound uint32

const (
	BoundNone Bound = iota
	BoundUpper
	BoundLower
	BoundExact
)

// Node is one search-tree position, sized to fit a single cache line. The
// field order is load-bearing: it packs to exactly 64 bytes and keeps every
// atomically-accessed word naturally aligned. The children array is
// contiguous, exclusively owned by this node, published once via the
// expansion tag and never resized.
type Node struct {
	bestChild unsafe.Pointer // atomic *Node
	children  *Node          // written by the expanding owner, visible after SetExpanded

	prior      float32
	childCount int16
	move       game.Move

	// atomic access only pl0x
	visitingCount int32  // virtual losses in flight
	visitCount    int32  // N(s, a) in the literature
	valueAverage  uint32 // actually float32. running Q(s, a)
	valueWeight   int32  // denominator behind valueAverage
	upWeight      int32  // pending extra backprop weight (linear-exploration mode)
	terminal      uint32 // packed TerminalValue
	expansion     uint32 // Expansion

	tablebaseRank  int32
	tablebaseScore uint32 // actually float32
	tablebaseBound uint32 // Bound
}

func init() {
	if size := unsafe.Sizeof(Node{}); size != 64 {
		panic("mcts: Node must pack to one cache line")
	}
}

// NewChildren allocates an unpublished children array for the given moves and
// priors. The caller attaches it with SetChildren once fully initialized.
func NewChildren(moves []game.Move, priors []float32) []Node {
	children := make([]Node, len(moves))
	for i := range children {
		children[i].move = moves[i]
		children[i].prior = priors[i]
	}
	return children
}

func (n *Node) Move() game.Move      { return n.move }
func (n *Node) Prior() float32       { return n.prior }
func (n *Node) VisitCount() int32    { return atomic.LoadInt32(&n.visitCount) }
func (n *Node) VisitingCount() int32 { return atomic.LoadInt32(&n.visitingCount) }
func (n *Node) ValueWeight() int32   { return atomic.LoadInt32(&n.valueWeight) }

func (n *Node) BestChild() *Node { return (*Node)(atomic.LoadPointer(&n.bestChild)) }

func (n *Node) SetBestChild(child *Node) {
	atomic.StorePointer(&n.bestChild, unsafe.Pointer(child))
}

// Children returns the published child array, nil before expansion or after
// pruning. The array is only reachable once the Expanded tag is visible, so
// readers never observe a half-built child.
func (n *Node) Children() []Node {
	if n.ExpansionState() != ExpansionExpanded || n.children == nil {
		return nil
	}
	return unsafe.Slice(n.children, n.childCount)
}

// SetChildren attaches a fully-initialized child array. Must only be called
// by the goroutine that won TryStartExpanding, before SetExpanded.
func (n *Node) SetChildren(children []Node) {
	if len(children) == 0 {
		n.children = nil
		n.childCount = 0
		return
	}
	n.children = &children[0]
	n.childCount = int16(len(children))
}

func (n *Node) ChildCount() int { return int(n.childCount) }

// Child finds the child reached by the given move, nil if absent.
func (n *Node) Child(match game.Move) *Node {
	children := n.Children()
	for i := range children {
		if children[i].move == match {
			return &children[i]
		}
	}
	return nil
}

func (n *Node) ExpansionState() Expansion {
	return Expansion(atomic.LoadUint32(&n.expansion))
}

func (n *Node) IsExpanded() bool { return n.ExpansionState() == ExpansionExpanded }

// TryStartExpanding claims exclusive ownership of expansion. Exactly one
// caller wins; losers either use the published children or abandon the
// simulation.
func (n *Node) TryStartExpanding() bool {
	return atomic.CompareAndSwapUint32(&n.expansion, uint32(ExpansionNone), uint32(ExpansionExpanding))
}

// SetExpanded publishes the children attached via SetChildren.
func (n *Node) SetExpanded() {
	atomic.StoreUint32(&n.expansion, uint32(ExpansionExpanded))
}

// CancelExpanding reverts a claimed but failed expansion so that a later
// simulation can retry it.
func (n *Node) CancelExpanding() {
	atomic.CompareAndSwapUint32(&n.expansion, uint32(ExpansionExpanding), uint32(ExpansionNone))
}

func (n *Node) Terminal() TerminalValue {
	return unpackTerminal(atomic.LoadUint32(&n.terminal))
}

func (n *Node) SetTerminal(value TerminalValue) {
	atomic.StoreUint32(&n.terminal, packTerminal(value))
}

func (n *Node) TablebaseRank() int32 { return atomic.LoadInt32(&n.tablebaseRank) }

func (n *Node) SetTablebaseRank(rank int32) { atomic.StoreInt32(&n.tablebaseRank, rank) }

func (n *Node) TablebaseBound() Bound { return Bound(atomic.LoadUint32(&n.tablebaseBound)) }

// SetTablebaseScoreBound records an endgame-database verdict. The score is
// stored before the bound so a reader that observes the bound sees a valid
// score.
func (n *Node) SetTablebaseScoreBound(score float32, bound Bound) {
	atomic.StoreUint32(&n.tablebaseScore, math32.Float32bits(score))
	atomic.StoreUint32(&n.tablebaseBound, uint32(bound))
}

// TablebaseBoundedValue clips a search value against any tablebase verdict:
// exact scores replace it, one-sided bounds cap it from the matching side.
func (n *Node) TablebaseBoundedValue(value float32) float32 {
	switch n.TablebaseBound() {
	case BoundExact:
		return math32.Float32frombits(atomic.LoadUint32(&n.tablebaseScore))
	case BoundLower:
		return math32.Max(value, math32.Float32frombits(atomic.LoadUint32(&n.tablebaseScore)))
	case BoundUpper:
		return math32.Min(value, math32.Float32frombits(atomic.LoadUint32(&n.tablebaseScore)))
	}
	return value
}

// Value is the node's estimate from the perspective of the player who moved
// into it: the running average when samples exist, the exact outcome for
// terminal nodes, otherwise uninitialized.
func (n *Node) Value() float32 {
	if atomic.LoadInt32(&n.valueWeight) > 0 {
		average := math32.Float32frombits(atomic.LoadUint32(&n.valueAverage))
		return n.TablebaseBoundedValue(average)
	}
	if terminal := n.Terminal(); !terminal.IsNonTerminal() {
		return terminal.ImmediateValue()
	}
	if n.TablebaseBound() == BoundExact {
		return math32.Float32frombits(atomic.LoadUint32(&n.tablebaseScore))
	}
	return game.ValueUninitialized
}

// ValueWithVirtualLoss treats each in-flight visit as a loss, steering
// concurrent selections away from already-claimed lines.
func (n *Node) ValueWithVirtualLoss() float32 {
	visiting := atomic.LoadInt32(&n.visitingCount)
	if visiting <= 0 {
		return n.Value()
	}
	weight := atomic.LoadInt32(&n.valueWeight)
	if weight <= 0 {
		return game.ValueLose
	}
	average := n.TablebaseBoundedValue(math32.Float32frombits(atomic.LoadUint32(&n.valueAverage)))
	return average * float32(weight) / float32(weight+visiting)
}

// SampleValue folds an observation into the running average and returns the
// updated weight. With build 1 and an unbounded cap this is the plain
// arithmetic mean, so the denominator tracks total visit weight; otherwise
// the denominator is damped toward the cap and recent samples count for
// more. The average and weight are separate words updated independently,
// the same tolerated raciness as the rest of the lock-free visit path.
func (n *Node) SampleValue(build, cap float32, weight int32, value float32) int32 {
	var newWeight int32
	for {
		oldWeight := atomic.LoadInt32(&n.valueWeight)
		grown := float32(oldWeight)*build + float32(weight)
		if grown > cap {
			grown = cap
		}
		newWeight = int32(grown)
		if atomic.CompareAndSwapInt32(&n.valueWeight, oldWeight, newWeight) {
			break
		}
	}
	for {
		oldBits := atomic.LoadUint32(&n.valueAverage)
		oldAverage := math32.Float32frombits(oldBits)
		newAverage := oldAverage + float32(weight)*(value-oldAverage)/float32(newWeight)
		if atomic.CompareAndSwapUint32(&n.valueAverage, oldBits, math32.Float32bits(newAverage)) {
			return newWeight
		}
	}
}

// AddVisiting applies virtual loss before a simulation descends through this
// node; RemoveVisiting undoes it during backpropagation or failure.
func (n *Node) AddVisiting()    { atomic.AddInt32(&n.visitingCount, 1) }
func (n *Node) RemoveVisiting() { atomic.AddInt32(&n.visitingCount, -1) }

// AddVisits credits completed simulations.
func (n *Node) AddVisits(weight int32) { atomic.AddInt32(&n.visitCount, weight) }

// MarkUpWeight accumulates extra backprop weight for selections made before
// the node had any evaluated value; ClaimUpWeight consumes it.
func (n *Node) MarkUpWeight()        { atomic.AddInt32(&n.upWeight, 1) }
func (n *Node) ClaimUpWeight() int32 { return atomic.SwapInt32(&n.upWeight, 0) }

// detach poisons a pruned node so stray references fail loudly rather than
// silently reading freed state.
func (n *Node) detach() {
	n.children = nil
	n.childCount = 0
	atomic.StoreUint32(&n.expansion, uint32(ExpansionNone))
	atomic.StorePointer(&n.bestChild, nil)
}
