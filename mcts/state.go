package mcts

import (
	"sync/atomic"
	"time"

	"github.com/notnil/chess"

	"github.com/temposearch/tempo/game"
)

// SelfPlayState is the coroutine tag for one game slot. A slot parks in
// WaitingForPrediction whenever it needs the network, and the worker resumes
// it after the shared batch completes.
type SelfPlayState int

const (
	Working SelfPlayState = iota
	WaitingForPrediction
	Finished
)

func (s SelfPlayState) String() string {
	switch s {
	case Working:
		return "Working"
	case WaitingForPrediction:
		return "WaitingForPrediction"
	case Finished:
		return "Finished"
	}
	return "UNKNOWN STATE"
}

// TimeControl describes the budget for one search. Zero values mean
// unconstrained; self-play always runs with a pure simulation limit.
type TimeControl struct {
	Infinite   bool
	Nodes      int
	Mate       int
	MoveTimeMs int64

	TimeRemainingMs [2]int64
	IncrementMs     [2]int64
	MovesToGo       int

	EliminationFraction       float32
	EliminationRootVisitCount int
}

func colorIndex(c chess.Color) int {
	if c == chess.Black {
		return 1
	}
	return 0
}

// budgetMs returns the wall-clock allowance for the side to move, zero when
// only node or simulation limits apply.
func (tc *TimeControl) budgetMs(toPlay chess.Color, safetyBufferMs int64, remainingFraction float32) int64 {
	if tc.Infinite {
		return 0
	}
	if tc.MoveTimeMs > 0 {
		return tc.MoveTimeMs - safetyBufferMs
	}
	side := colorIndex(toPlay)
	remaining := tc.TimeRemainingMs[side]
	if remaining <= 0 {
		return 0
	}
	budget := int64(float32(remaining)*remainingFraction) + tc.IncrementMs[side] - safetyBufferMs
	if tc.MovesToGo > 0 {
		perMove := remaining/int64(tc.MovesToGo) + tc.IncrementMs[side] - safetyBufferMs
		if perMove > budget {
			budget = perMove
		}
	}
	if budget < 1 {
		budget = 1
	}
	return budget
}

// SearchState is shared by every worker participating in one search or
// self-play run. The non-atomic fields belong to the controller and the
// primary worker; the atomic tail is touched by everybody.
type SearchState struct {
	Config *Config

	// Controller + primary worker.
	searchMoves                 []game.Move
	searchStart                 time.Time
	lastPrincipleVariationPrint time.Time
	lastBestMove                game.Move
	lastBestNodes               int32
	timeControl                 TimeControl
	previousNodeCount           int32

	// All workers.
	position   *SelfPlayGame
	cache      *PredictionCache
	tablebases TablebaseProber

	// atomic access only pl0x
	debug                     uint32
	nodeCount                 int32
	failedNodeCount           int32
	tablebaseHitCount         int32
	principleVariationChanged uint32
}

func NewSearchState(config *Config) *SearchState {
	return &SearchState{Config: config}
}

// Reset prepares the shared state for a new search with the given budget.
func (s *SearchState) Reset(timeControl TimeControl) {
	s.searchMoves = nil
	s.searchStart = time.Now()
	s.lastPrincipleVariationPrint = time.Time{}
	s.lastBestMove = 0
	s.lastBestNodes = 0
	if timeControl.EliminationRootVisitCount == 0 {
		timeControl.EliminationFraction = s.Config.EliminationFraction
		timeControl.EliminationRootVisitCount = s.Config.EliminationRootVisits
	}
	s.timeControl = timeControl
	s.previousNodeCount = 0
	atomic.StoreInt32(&s.nodeCount, 0)
	atomic.StoreInt32(&s.failedNodeCount, 0)
	atomic.StoreInt32(&s.tablebaseHitCount, 0)
	atomic.StoreUint32(&s.principleVariationChanged, 0)
}

func (s *SearchState) TimeControl() TimeControl { return s.timeControl }

// SetSearchMoves restricts the search root to the given moves, the
// "searchmoves" feature of interactive search. Call after Reset; an empty
// slice searches every legal move.
func (s *SearchState) SetSearchMoves(moves []game.Move) { s.searchMoves = moves }

func (s *SearchState) SearchMoves() []game.Move { return s.searchMoves }

func (s *SearchState) Position() *SelfPlayGame        { return s.position }
func (s *SearchState) SetPosition(game *SelfPlayGame) { s.position = game }

func (s *SearchState) PredictionCache() *PredictionCache         { return s.cache }
func (s *SearchState) SetPredictionCache(cache *PredictionCache) { s.cache = cache }

func (s *SearchState) Tablebases() TablebaseProber          { return s.tablebases }
func (s *SearchState) SetTablebases(prober TablebaseProber) { s.tablebases = prober }

func (s *SearchState) Debug() bool { return atomic.LoadUint32(&s.debug) != 0 }

func (s *SearchState) SetDebug(debug bool) {
	var v uint32
	if debug {
		v = 1
	}
	atomic.StoreUint32(&s.debug, v)
}

func (s *SearchState) NodeCount() int32 { return atomic.LoadInt32(&s.nodeCount) }
func (s *SearchState) AddNodes(n int32) { atomic.AddInt32(&s.nodeCount, n) }

func (s *SearchState) FailedNodeCount() int32 { return atomic.LoadInt32(&s.failedNodeCount) }
func (s *SearchState) AddFailedNode()         { atomic.AddInt32(&s.failedNodeCount, 1) }

func (s *SearchState) TablebaseHitCount() int32 { return atomic.LoadInt32(&s.tablebaseHitCount) }
func (s *SearchState) AddTablebaseHit()         { atomic.AddInt32(&s.tablebaseHitCount, 1) }

func (s *SearchState) PrincipleVariationChanged() bool {
	return atomic.LoadUint32(&s.principleVariationChanged) != 0
}

func (s *SearchState) MarkPrincipleVariationChanged() {
	atomic.StoreUint32(&s.principleVariationChanged, 1)
}

func (s *SearchState) ClaimPrincipleVariationChanged() bool {
	return atomic.SwapUint32(&s.principleVariationChanged, 0) != 0
}

func (s *SearchState) Elapsed() time.Duration { return time.Since(s.searchStart) }
