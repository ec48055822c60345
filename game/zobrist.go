package game

import (
	"math/rand"

	"github.com/notnil/chess"
)

// zobrist holds the random keys for position hashing.
// https://en.wikipedia.org/wiki/Zobrist_hashing
//
// Keys are generated from a fixed seed so hashes are stable across runs,
// which matters for the prediction cache and for saved-game replay.
type zobristTable struct {
	pieces      [12][64]uint64
	castling    [16]uint64
	enPassant   [8]uint64
	blackToMove uint64
}

var zobrist = makeZobristTable()

func makeZobristTable() *zobristTable {
	r := rand.New(rand.NewSource(0x7e57ab1e))
	z := new(zobristTable)
	for p := range z.pieces {
		for sq := range z.pieces[p] {
			z.pieces[p][sq] = r.Uint64()
		}
	}
	for i := range z.castling {
		z.castling[i] = r.Uint64()
	}
	for i := range z.enPassant {
		z.enPassant[i] = r.Uint64()
	}
	z.blackToMove = r.Uint64()
	return z
}

// pieceIndex maps a chess.Piece to a 0-11 plane: white PNBRQK then black.
// notnil/chess orders piece types King=1 .. Pawn=6, so 6-Type gives Pawn=0 .. King=5.
func pieceIndex(p chess.Piece) int {
	idx := 6 - int(p.Type())
	if p.Color() == chess.Black {
		idx += 6
	}
	return idx
}

// ZobristKey hashes a position: piece placement, castling rights, en passant
// file and side to move.
func ZobristKey(pos *chess.Position) uint64 {
	var h uint64
	for sq, piece := range pos.Board().SquareMap() {
		h ^= zobrist.pieces[pieceIndex(piece)][int(sq)]
	}

	var castle int
	cr := pos.CastleRights()
	if cr.CanCastle(chess.White, chess.KingSide) {
		castle |= 1
	}
	if cr.CanCastle(chess.White, chess.QueenSide) {
		castle |= 2
	}
	if cr.CanCastle(chess.Black, chess.KingSide) {
		castle |= 4
	}
	if cr.CanCastle(chess.Black, chess.QueenSide) {
		castle |= 8
	}
	h ^= zobrist.castling[castle]

	if ep := pos.EnPassantSquare(); ep != chess.NoSquare {
		h ^= zobrist.enPassant[int(ep.File())]
	}
	if pos.Turn() == chess.Black {
		h ^= zobrist.blackToMove
	}
	return h
}
