package mcts

import "github.com/temposearch/tempo/game"

// TerminalValue encodes a game-theoretic outcome in a single optional signed
// byte: 0 is a draw, positive n means the side to move here is mated in n
// full moves (good for the player who moved into this node), negative n means
// the side to move mates in n (bad for the mover). Absent means non-terminal.
type TerminalValue struct {
	n   int8
	set bool
}

// NonTerminal is the absent value.
var NonTerminal = TerminalValue{}

func Draw() TerminalValue { return TerminalValue{set: true} }

// MateIn constructs "side to move is mated in n full moves", n >= 1.
// A checkmate position itself is MateIn(1): the mate was a mate-in-one for
// the player who delivered it.
func MateIn(n int8) TerminalValue { return TerminalValue{n: n, set: true} }

// OpponentMateIn constructs "side to move mates in n full moves", n >= 1.
func OpponentMateIn(n int8) TerminalValue { return TerminalValue{n: -n, set: true} }

func (t TerminalValue) IsNonTerminal() bool     { return !t.set }
func (t TerminalValue) IsDraw() bool            { return t.set && t.n == 0 }
func (t TerminalValue) IsMateInN() bool         { return t.set && t.n > 0 }
func (t TerminalValue) IsOpponentMateInN() bool { return t.set && t.n < 0 }

// MateN returns the mate distance when the side to move is being mated.
// Callers must check IsMateInN first.
func (t TerminalValue) MateN() int8 { return t.n }

// OpponentMateN returns the mate distance when the side to move mates.
// Callers must check IsOpponentMateInN first.
func (t TerminalValue) OpponentMateN() int8 { return -t.n }

// EitherMateN returns the signed mate distance, zero for draws.
func (t TerminalValue) EitherMateN() int8 { return t.n }

// IsImmediate reports whether this value came straight from the rules of the
// game rather than from mate propagation: a drawn position, or the checkmate
// position itself.
func (t TerminalValue) IsImmediate() bool { return t.set && (t.n == 0 || t.n == 1) }

// ImmediateValue maps the outcome to a win/draw/loss value for the player
// who moved into this node.
func (t TerminalValue) ImmediateValue() float32 {
	switch {
	case t.n > 0:
		return game.ValueWin
	case t.n < 0:
		return game.ValueLose
	}
	return game.ValueDraw
}

// MateScore returns a selection score that keeps forced mates ordered against
// ordinary value+exploration sums: above 1 and decreasing toward 1 with mate
// distance when the mover wins, below 0 and increasing toward 0 when the
// mover loses. Scaling by the exploration rate keeps short mates preferred
// even when exploration terms are large. Calling this on a non-terminal or
// drawn value is a contract violation.
func (t TerminalValue) MateScore(explorationRate float32) float32 {
	if t.n > 0 {
		return game.ValueWin + explorationRate/float32(t.n)
	}
	return game.ValueLose - explorationRate/float32(-t.n)
}

// packTerminal encodes a TerminalValue for atomic storage in a Node.
func packTerminal(t TerminalValue) uint32 {
	if !t.set {
		return 0
	}
	return uint32(uint8(t.n)) | 1<<8
}

func unpackTerminal(bits uint32) TerminalValue {
	if bits&(1<<8) == 0 {
		return TerminalValue{}
	}
	return TerminalValue{n: int8(uint8(bits)), set: true}
}
