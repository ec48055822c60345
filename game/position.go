package game

import (
	"strings"

	"github.com/notnil/chess"
	"github.com/pkg/errors"
)

// Game outcome values, from the perspective of the side being scored.
const (
	ValueWin           float32 = 1.0
	ValueDraw          float32 = 0.5
	ValueLose          float32 = 0.0
	ValueUninitialized float32 = -1.0
)

// FlipValue converts a value between the two players' perspectives.
func FlipValue(value float32) float32 { return 1 - value }

// FlipValueToPlay returns value from white's perspective given a value from
// toPlay's perspective.
func FlipValueToPlay(toPlay chess.Color, value float32) float32 {
	if toPlay == chess.Black {
		return FlipValue(value)
	}
	return value
}

// Status classifies a position for the search. Draw detection beyond
// stalemate is done here rather than in notnil/chess because the rules
// library only reports checkmate/stalemate at the position level.
type Status uint8

const (
	StatusOngoing Status = iota
	StatusCheckmate
	StatusStalemate
	StatusDrawRepetition
	StatusDrawFiftyMove
	StatusDrawInsufficient
)

// Position wraps a notnil/chess position with the history the search needs:
// per-ply hashes for repetition detection and a half-move clock for the
// fifty-move rule.
type Position struct {
	pos    *chess.Position
	hashes []uint64 // zobrist per ply, index 0 = initial position
	moves  []Move
	clock  int // half-moves since last capture or pawn move
}

// NewPosition returns the standard starting position.
func NewPosition() *Position {
	pos := chess.NewGame().Position()
	return &Position{
		pos:    pos,
		hashes: []uint64{ZobristKey(pos)},
	}
}

// NewPositionFEN sets up a position from a FEN string.
func NewPositionFEN(fen string) (*Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, errors.Wrapf(err, "bad FEN %q", fen)
	}
	pos := chess.NewGame(opt).Position()
	p := &Position{
		pos:    pos,
		hashes: []uint64{ZobristKey(pos)},
	}
	// Seed the half-move clock from the FEN's own counter.
	fields := strings.Fields(pos.String())
	if len(fields) >= 5 {
		clock := 0
		for _, c := range fields[4] {
			if c < '0' || c > '9' {
				clock = 0
				break
			}
			clock = clock*10 + int(c-'0')
		}
		p.clock = clock
	}
	return p, nil
}

// Clone deep-copies the position and its history.
func (p *Position) Clone() *Position {
	c := &Position{
		pos:    p.pos,
		hashes: make([]uint64, len(p.hashes)),
		moves:  make([]Move, len(p.moves)),
		clock:  p.clock,
	}
	copy(c.hashes, p.hashes)
	copy(c.moves, p.moves)
	return c
}

func (p *Position) ToPlay() chess.Color  { return p.pos.Turn() }
func (p *Position) Ply() int             { return len(p.moves) }
func (p *Position) Hash() uint64         { return p.hashes[len(p.hashes)-1] }
func (p *Position) Moves() []Move        { return p.moves }
func (p *Position) Raw() *chess.Position { return p.pos }
func (p *Position) FEN() string          { return p.pos.String() }

// LegalMoves returns the legal moves for the side to move.
func (p *Position) LegalMoves() []*chess.Move { return p.pos.ValidMoves() }

// ApplyMove plays a legal move, updating history and the half-move clock.
func (p *Position) ApplyMove(m *chess.Move) {
	isPawn := p.pos.Board().Piece(m.S1()).Type() == chess.Pawn
	isCapture := m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant)
	if isPawn || isCapture {
		p.clock = 0
	} else {
		p.clock++
	}
	p.pos = p.pos.Update(m)
	p.hashes = append(p.hashes, ZobristKey(p.pos))
	p.moves = append(p.moves, PackMove(m))
}

// Apply plays a packed move. The move must be legal.
func (p *Position) Apply(m Move) error {
	cm := p.FindMove(m)
	if cm == nil {
		return errors.Errorf("illegal move %v in %s", m, p.FEN())
	}
	p.ApplyMove(cm)
	return nil
}

// FindMove resolves a packed move against the current legal moves.
func (p *Position) FindMove(m Move) *chess.Move {
	for _, cm := range p.pos.ValidMoves() {
		if cm.S1() == m.From() && cm.S2() == m.To() && cm.Promo() == m.Promo() {
			return cm
		}
	}
	return nil
}

// ParseSAN resolves a move in standard algebraic notation.
func (p *Position) ParseSAN(san string) (*chess.Move, error) {
	m, err := chess.AlgebraicNotation{}.Decode(p.pos, san)
	return m, errors.Wrapf(err, "parse %q", san)
}

// ComputeStatus classifies the current position. Repetition is judged over
// the whole game history (threefold); the search layer separately detects
// twofold repetitions scoped to the search root.
func (p *Position) ComputeStatus() Status {
	switch p.pos.Status() {
	case chess.Checkmate:
		return StatusCheckmate
	case chess.Stalemate:
		return StatusStalemate
	}
	if p.clock >= 100 {
		return StatusDrawFiftyMove
	}
	if p.RepetitionCount(p.Hash()) >= 3 {
		return StatusDrawRepetition
	}
	if p.insufficientMaterial() {
		return StatusDrawInsufficient
	}
	return StatusOngoing
}

// RepetitionCount counts occurrences of hash in the position history,
// including the current position.
func (p *Position) RepetitionCount(hash uint64) int {
	count := 0
	for _, h := range p.hashes {
		if h == hash {
			count++
		}
	}
	return count
}

// IsRepeatedSince reports whether the current position occurred before,
// looking back at most plies half-moves. Used for in-tree twofold
// repetition scoring.
func (p *Position) IsRepeatedSince(plies int) bool {
	current := p.Hash()
	last := len(p.hashes) - 1
	stop := last - plies
	if stop < 0 {
		stop = 0
	}
	for i := last - 1; i >= stop; i-- {
		if p.hashes[i] == current {
			return true
		}
	}
	return false
}

// PieceCount returns the number of pieces on the board, used for
// tablebase-probe gating.
func (p *Position) PieceCount() int {
	return len(p.pos.Board().SquareMap())
}

func (p *Position) insufficientMaterial() bool {
	var knights, bishops int
	var bishopSquareSum int
	for sq, piece := range p.pos.Board().SquareMap() {
		switch piece.Type() {
		case chess.Pawn, chess.Rook, chess.Queen:
			return false
		case chess.Knight:
			knights++
		case chess.Bishop:
			bishops++
			bishopSquareSum += (int(sq.File()) + int(sq.Rank())) & 1
		}
	}
	if knights+bishops <= 1 {
		return true
	}
	// Any number of same-colored bishops and nothing else cannot mate.
	return knights == 0 && (bishopSquareSum == 0 || bishopSquareSum == bishops)
}
