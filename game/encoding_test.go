package game

import (
	"strings"
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyIndexUniquePerPosition(t *testing.T) {
	fens := []string{
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"8/2P2k2/8/8/8/8/6K1/8 w - - 0 1",
		"8/6k1/8/8/8/8/2p2K2/8 b - - 0 1",
	}
	for _, fen := range fens {
		p, err := NewPositionFEN(fen)
		require.NoError(t, err)
		seen := make(map[int]Move)
		for _, cm := range p.LegalMoves() {
			m := PackMove(cm)
			idx := PolicyIndex(p.ToPlay(), m)
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, PolicySize)
			prev, dup := seen[idx]
			require.False(t, dup, "%s: %v and %v share policy index %d", fen, prev, m, idx)
			seen[idx] = m
		}
	}
}

func TestPolicyIndexUnderpromotion(t *testing.T) {
	p, err := NewPositionFEN("8/2P2k2/8/8/8/8/6K1/8 w - - 0 1")
	require.NoError(t, err)

	planes := make(map[chess.PieceType]int)
	for _, cm := range p.LegalMoves() {
		m := PackMove(cm)
		plane := PolicyIndex(chess.White, m) / SquareCount
		planes[m.Promo()] = plane
	}
	// Straight underpromotion pushes land on the middle column of the table.
	assert.Equal(t, 65, planes[chess.Knight])
	assert.Equal(t, 68, planes[chess.Bishop])
	assert.Equal(t, 71, planes[chess.Rook])
	// Queen promotions use the ordinary one-step push plane.
	assert.Less(t, planes[chess.Queen], 56)
}

func TestPolicyRoundTrip(t *testing.T) {
	p := NewPosition()
	mustApplySAN(t, p, "e4", "e5", "Nf3")

	legal := p.LegalMoves()
	visits := make(map[Move]float32, len(legal))
	for i, cm := range legal {
		visits[PackMove(cm)] = float32(i+1) / float32(len(legal))
	}

	policy := GeneratePolicy(p.ToPlay(), visits)
	covered := 0
	for m, want := range visits {
		assert.Equal(t, want, PolicyValue(policy, p.ToPlay(), m))
		covered++
	}
	var nonZero int
	for _, v := range policy {
		if v != 0 {
			nonZero++
		}
	}
	assert.Equal(t, covered, nonZero, "only legal moves may carry probability")
}

func TestGenerateImageStartingPosition(t *testing.T) {
	p := NewPosition()
	img := GenerateImage(p)
	require.Len(t, img, ImageSize)

	// Eight own pawns on the second rank of the own-pawn plane.
	var pawns int
	for sq := 0; sq < SquareCount; sq++ {
		if img[0*SquareCount+sq] == 1 {
			pawns++
			assert.Equal(t, chess.Rank2, chess.Square(sq).Rank())
		}
	}
	assert.Equal(t, 8, pawns)

	// All four castling planes are set.
	for plane := 12; plane <= 15; plane++ {
		assert.Equal(t, float32(1), img[plane*SquareCount])
	}
	// No progress yet, no repetition.
	assert.Equal(t, float32(0), img[16*SquareCount])
	assert.Equal(t, float32(0), img[17*SquareCount])
}

// flipTurnFEN flips only the side to move, producing the "null move"
// counterpart of a position.
func flipTurnFEN(fen string) string {
	fields := strings.Fields(fen)
	if fields[1] == "w" {
		fields[1] = "b"
	} else {
		fields[1] = "w"
	}
	fields[3] = "-" // en passant is never valid after a null move
	return strings.Join(fields, " ")
}

func TestImageNullMoveSymmetry(t *testing.T) {
	fens := []string{
		"r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R w KQkq - 0 1",
		"8/2P2k2/8/8/8/8/6K1/8 w - - 0 1",
	}
	for _, fen := range fens {
		a, err := NewPositionFEN(fen)
		require.NoError(t, err)
		b, err := NewPositionFEN(flipTurnFEN(fen))
		require.NoError(t, err)

		imgA := GenerateImage(a)
		imgB := GenerateImage(b)

		// A's own-piece planes equal B's board-flipped opponent planes.
		for plane := 0; plane < 6; plane++ {
			for sq := 0; sq < SquareCount; sq++ {
				own := imgA[plane*SquareCount+sq]
				opp := imgB[(plane+6)*SquareCount+(sq^flipSquareMask)]
				require.Equal(t, own, opp, "%s plane %d square %d", fen, plane, sq)
			}
		}
	}
}
