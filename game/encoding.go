package game

import (
	"github.com/notnil/chess"
)

// Neural-network tensor geometry. The input image is a stack of 8x8 planes
// from the side to move's perspective; the policy output is one plane per
// move "shape" indexed by origin square, AlphaZero-style.
const (
	SquareCount     = 64
	InputPlaneCount = 18 // 12 piece + 4 castling + no-progress + repetition
	ImageSize       = InputPlaneCount * SquareCount

	// 56 queen-move planes (8 directions x 7 distances), 8 knight planes,
	// 9 underpromotion planes (3 pieces x 3 directions).
	PolicyPlaneCount = 73
	PolicySize       = PolicyPlaneCount * SquareCount
)

// flipSquareMask mirrors a square vertically, so black positions are encoded
// as if black were playing up the board.
const flipSquareMask = 56

// FlipSquare reorients a square for the given side to move.
func FlipSquare(toPlay chess.Color, sq chess.Square) chess.Square {
	if toPlay == chess.Black {
		return sq ^ flipSquareMask
	}
	return sq
}

// queenKnightPlane maps (to-from+64)%64 to a policy plane. Distinct moves
// from one origin square never share a plane, even though the table itself
// aliases a few long slides with short ones in the opposite direction.
var queenKnightPlane [SquareCount]int

func init() {
	for i := range queenKnightPlane {
		queenKnightPlane[i] = -1
	}
	directions := []int{8, 9, 1, -7, -8, -9, -1, 7} // N NE E SE S SW W NW
	for dir, delta := range directions {
		for dist := 1; dist <= 7; dist++ {
			queenKnightPlane[(delta*dist+SquareCount)%SquareCount] = dir*7 + (dist - 1)
		}
	}
	knightDeltas := []int{17, 15, 10, 6, -6, -10, -15, -17}
	for i, delta := range knightDeltas {
		queenKnightPlane[(delta+SquareCount)%SquareCount] = 56 + i
	}
}

// underpromotionPlane[piece][direction]: piece is 0=knight 1=bishop 2=rook,
// direction is to-from-7 after orientation (NW, N, NE pawn pushes).
var underpromotionPlane = [3][3]int{
	{64, 65, 66},
	{67, 68, 69},
	{70, 71, 72},
}

// PolicyIndex maps a move to its slot in the policy output, from the side to
// move's perspective. Queen promotions encode as ordinary pawn pushes;
// underpromotions get dedicated planes.
func PolicyIndex(toPlay chess.Color, m Move) int {
	from := FlipSquare(toPlay, m.From())
	to := FlipSquare(toPlay, m.To())

	var plane int
	switch promo := m.Promo(); promo {
	case chess.NoPieceType, chess.Queen:
		plane = queenKnightPlane[(int(to)-int(from)+SquareCount)%SquareCount]
	default:
		piece := 0
		switch promo {
		case chess.Bishop:
			piece = 1
		case chess.Rook:
			piece = 2
		}
		plane = underpromotionPlane[piece][int(to)-int(from)-7]
	}
	return plane*SquareCount + int(from)
}

// PolicyValue reads the policy entry for a legal move.
func PolicyValue(policy []float32, toPlay chess.Color, m Move) float32 {
	return policy[PolicyIndex(toPlay, m)]
}

func NewImage() []float32  { return make([]float32, ImageSize) }
func NewPolicy() []float32 { return make([]float32, PolicySize) }

// GenerateImageInto encodes the position into dst, which must have length
// ImageSize. Planes 0-5 are the side to move's pawns through king, 6-11 the
// opponent's, 12-15 castling rights (ours K/Q then theirs), 16 the no-progress
// count, 17 a repetition flag.
func GenerateImageInto(dst []float32, p *Position) {
	for i := range dst {
		dst[i] = 0
	}
	toPlay := p.ToPlay()
	for sq, piece := range p.pos.Board().SquareMap() {
		plane := pieceIndex(piece)
		if toPlay == chess.Black {
			plane = (plane + 6) % 12
		}
		dst[plane*SquareCount+int(FlipSquare(toPlay, sq))] = 1
	}

	cr := p.pos.CastleRights()
	opponent := toPlay.Other()
	castlePlanes := [4]bool{
		cr.CanCastle(toPlay, chess.KingSide),
		cr.CanCastle(toPlay, chess.QueenSide),
		cr.CanCastle(opponent, chess.KingSide),
		cr.CanCastle(opponent, chess.QueenSide),
	}
	for i, can := range castlePlanes {
		if can {
			fill(dst, 12+i, 1)
		}
	}

	fill(dst, 16, float32(p.clock)/100)
	if p.RepetitionCount(p.Hash()) >= 2 {
		fill(dst, 17, 1)
	}
}

// GenerateImage is the allocating form of GenerateImageInto.
func GenerateImage(p *Position) []float32 {
	dst := NewImage()
	GenerateImageInto(dst, p)
	return dst
}

// GeneratePolicyInto writes a visit distribution as a policy tensor. Entries
// for moves absent from childVisits stay zero.
func GeneratePolicyInto(dst []float32, toPlay chess.Color, childVisits map[Move]float32) {
	for i := range dst {
		dst[i] = 0
	}
	for m, v := range childVisits {
		dst[PolicyIndex(toPlay, m)] = v
	}
}

// GeneratePolicy is the allocating form of GeneratePolicyInto.
func GeneratePolicy(toPlay chess.Color, childVisits map[Move]float32) []float32 {
	dst := NewPolicy()
	GeneratePolicyInto(dst, toPlay, childVisits)
	return dst
}

func fill(dst []float32, plane int, v float32) {
	base := plane * SquareCount
	for i := 0; i < SquareCount; i++ {
		dst[base+i] = v
	}
}
