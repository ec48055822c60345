package game

import (
	"fmt"

	"github.com/notnil/chess"
)

// Move is a chess move packed into 16 bits: bits 0-5 destination square,
// bits 6-11 origin square, bits 12-14 promotion piece (0 = none, 1 = knight,
// 2 = bishop, 3 = rook, 4 = queen). This is the representation stored in
// tree nodes and saved games.
type Move uint16

// NoMove is the zero Move, never a legal move (a1a1).
const NoMove Move = 0

func PackMove(m *chess.Move) Move {
	packed := Move(m.S2()) | Move(m.S1())<<6
	if promo := m.Promo(); promo != chess.NoPieceType {
		packed |= Move(promoBits(promo)) << 12
	}
	return packed
}

func (m Move) From() chess.Square { return chess.Square((m >> 6) & 0x3f) }
func (m Move) To() chess.Square   { return chess.Square(m & 0x3f) }

func (m Move) Promo() chess.PieceType {
	switch (m >> 12) & 0x7 {
	case 1:
		return chess.Knight
	case 2:
		return chess.Bishop
	case 3:
		return chess.Rook
	case 4:
		return chess.Queen
	}
	return chess.NoPieceType
}

// String renders the move in UCI coordinate form, e.g. "e2e4" or "e7e8q".
func (m Move) String() string {
	if promo := m.Promo(); promo != chess.NoPieceType {
		return fmt.Sprintf("%s%s%s", squareName(m.From()), squareName(m.To()), promoName(promo))
	}
	return fmt.Sprintf("%s%s", squareName(m.From()), squareName(m.To()))
}

func promoBits(p chess.PieceType) uint16 {
	switch p {
	case chess.Knight:
		return 1
	case chess.Bishop:
		return 2
	case chess.Rook:
		return 3
	case chess.Queen:
		return 4
	}
	return 0
}

func promoName(p chess.PieceType) string {
	switch p {
	case chess.Knight:
		return "n"
	case chess.Bishop:
		return "b"
	case chess.Rook:
		return "r"
	case chess.Queen:
		return "q"
	}
	return ""
}

func squareName(sq chess.Square) string {
	file := byte('a' + int(sq.File()))
	rank := byte('1' + int(sq.Rank()))
	return string([]byte{file, rank})
}
