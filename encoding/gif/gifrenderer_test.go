package gif

import (
	"bytes"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temposearch/tempo/game"
	"github.com/temposearch/tempo/storage"
)

func storedScholarsMate(t *testing.T) storage.StoredGame {
	t.Helper()
	position := game.NewPosition()
	stored := storage.StoredGame{Result: game.ValueWin}
	for _, san := range []string{"e4", "e5", "Bc4", "Nc6", "Qh5", "Nf6", "Qxf7#"} {
		cm, err := position.ParseSAN(san)
		require.NoError(t, err)
		stored.Moves = append(stored.Moves, game.PackMove(cm))
		position.ApplyMove(cm)
	}
	return stored
}

func TestEncodeGame(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(1080, 1920, &buf)

	stored := storedScholarsMate(t)
	require.NoError(t, enc.EncodeGame(1, stored))
	require.NoError(t, enc.Flush())

	decoded, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	// One frame per position including the final one.
	assert.Len(t, decoded.Image, len(stored.Moves)+1)
	assert.Equal(t, 300, decoded.Delay[len(decoded.Delay)-1], "the final frame lingers")
}

func TestEncodeFrameSizing(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(200, 300, &buf)

	require.NoError(t, enc.EncodeFrame(game.NewPosition(), "caption", false))
	assert.LessOrEqual(t, enc.H, 200)
	assert.LessOrEqual(t, enc.W, 300)
	require.NoError(t, enc.Flush())
	assert.Equal(t, "GIF89a", buf.String()[:6])
}
