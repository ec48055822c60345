package storage

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tempogame "github.com/temposearch/tempo/game"
)

// sampleGame plays the given SANs from the start and fabricates plausible
// per-ply training statistics.
func sampleGame(t *testing.T, result float32, sans ...string) StoredGame {
	t.Helper()
	position := tempogame.NewPosition()
	stored := StoredGame{Result: result}
	for _, san := range sans {
		cm, err := position.ParseSAN(san)
		require.NoError(t, err)
		move := tempogame.PackMove(cm)
		stored.Moves = append(stored.Moves, move)
		stored.ChildVisits = append(stored.ChildVisits, map[tempogame.Move]float32{move: 1})
		stored.MctsValues = append(stored.MctsValues, 0.5)
		position.ApplyMove(cm)
	}
	return stored
}

func TestChunkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games_000000001.chunk")
	games := []StoredGame{
		sampleGame(t, 1, "e4", "e5", "Nf3"),
		sampleGame(t, 0.5, "d4", "d5"),
	}
	require.NoError(t, SaveChunk(path, games))

	loaded, err := LoadChunk(path)
	require.NoError(t, err)
	if diff := cmp.Diff(games, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAddGameWindowEviction(t *testing.T) {
	s := New("", 2, 0)
	require.NoError(t, s.AddGame(sampleGame(t, 1, "e4")))
	require.NoError(t, s.AddGame(sampleGame(t, 0, "d4")))
	require.NoError(t, s.AddGame(sampleGame(t, 0.5, "c4")))

	assert.Equal(t, 3, s.GamesSeen())
	assert.Equal(t, 2, s.WindowLen())

	recent := s.RecentGames(10)
	require.Len(t, recent, 2)
	assert.Equal(t, float32(0.5), recent[1].Result, "newest game last")
}

func TestAddGameFlushesChunks(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 100, 2)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AddGame(sampleGame(t, 1, "e4", "e5")))
	}

	paths, err := filepath.Glob(filepath.Join(dir, "games_*.chunk"))
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	restored := New(dir, 100, 2)
	require.NoError(t, restored.LoadDir())
	assert.Equal(t, 4, restored.WindowLen())
	assert.Equal(t, 4, restored.GamesSeen())
}

func TestSampleBatchShapes(t *testing.T) {
	s := New("", 10, 0)
	require.NoError(t, s.AddGame(sampleGame(t, 1, "e4", "e5", "Nf3", "Nc6")))

	rng := rand.New(rand.NewSource(1))
	images, values, policies, err := s.SampleBatch(8, rng)
	require.NoError(t, err)

	assert.Equal(t, []int{8, tempogame.InputPlaneCount, 8, 8}, []int(images.Shape()))
	assert.Equal(t, []int{8, 1}, []int(values.Shape()))
	assert.Equal(t, []int{8, tempogame.PolicySize}, []int(policies.Shape()))

	// Sampled values are the stored search values.
	for _, v := range values.Data().([]float32) {
		assert.Equal(t, float32(0.5), v)
	}

	// Each policy row is the visit distribution: one move with weight 1.
	policyData := policies.Data().([]float32)
	for i := 0; i < 8; i++ {
		var sum float32
		for _, v := range policyData[i*tempogame.PolicySize : (i+1)*tempogame.PolicySize] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestSampleBatchEmptyWindow(t *testing.T) {
	s := New("", 10, 0)
	_, _, _, err := s.SampleBatch(8, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

// A game serialized through a chunk must reconstruct training tensors
// bit-identical to generating them from the live positions, since both paths
// share the same encoding.
func TestStoredGameReplayMatchesLiveTensors(t *testing.T) {
	sans := []string{"e4", "e5", "Nf3", "d6", "d4", "Bg4",
		"dxe5", "Bxf3", "Qxf3", "dxe5", "Bc4", "Nf6"}

	live := tempogame.NewPosition()
	stored := StoredGame{Result: 1}
	liveImages := make([][]float32, 0, len(sans))
	livePolicies := make([][]float32, 0, len(sans))
	for ply, san := range sans {
		legal := live.LegalMoves()
		visits := make(map[tempogame.Move]float32, len(legal))
		var sum float32
		for i, cm := range legal {
			visits[tempogame.PackMove(cm)] = float32(i + 1)
			sum += float32(i + 1)
		}
		for move := range visits {
			visits[move] /= sum
		}

		image := tempogame.NewImage()
		tempogame.GenerateImageInto(image, live)
		policy := tempogame.NewPolicy()
		tempogame.GeneratePolicyInto(policy, live.ToPlay(), visits)
		liveImages = append(liveImages, image)
		livePolicies = append(livePolicies, policy)

		cm, err := live.ParseSAN(san)
		require.NoError(t, err)
		stored.Moves = append(stored.Moves, tempogame.PackMove(cm))
		stored.ChildVisits = append(stored.ChildVisits, visits)
		stored.MctsValues = append(stored.MctsValues, float32(ply+1)/16)
		live.ApplyMove(cm)
	}

	dir := t.TempDir()
	s := New(dir, 10, 1)
	require.NoError(t, s.AddGame(stored))

	reloaded := New(dir, 10, 1)
	require.NoError(t, reloaded.LoadDir())
	games := reloaded.RecentGames(1)
	require.Len(t, games, 1)
	got := games[0]
	require.Equal(t, stored.Result, got.Result)
	require.Equal(t, stored.Moves, got.Moves)
	require.Equal(t, stored.MctsValues, got.MctsValues)

	replay := tempogame.NewPosition()
	for ply := range got.Moves {
		image := tempogame.NewImage()
		tempogame.GenerateImageInto(image, replay)
		policy := tempogame.NewPolicy()
		tempogame.GeneratePolicyInto(policy, replay.ToPlay(), got.ChildVisits[ply])

		assert.Equal(t, liveImages[ply], image, "image at ply %d", ply)
		assert.Equal(t, livePolicies[ply], policy, "policy at ply %d", ply)
		require.NoError(t, replay.Apply(got.Moves[ply]))
	}
}
