// Package storage keeps finished self-play games in a bounded replay window,
// persists them as compressed chunks, and samples training batches from them.
package storage

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/temposearch/tempo/game"
)

// StoredGame is one finished self-play game, reduced to what training needs:
// the move list to replay positions from, the per-move visit distributions,
// the per-move search values, and the final result from white's perspective.
type StoredGame struct {
	Result      float32
	Moves       []game.Move
	ChildVisits []map[game.Move]float32
	MctsValues  []float32
}

// MoveCount is the number of training positions the game contributes.
func (g *StoredGame) MoveCount() int { return len(g.Moves) }

// Storage is safe for concurrent use by self-play workers and the trainer.
type Storage struct {
	mu sync.Mutex

	games      []StoredGame
	windowSize int
	gamesSeen  int

	dir        string
	chunkSize  int
	pendingLen int
}

// New creates a replay window of at most windowSize games, flushing a
// compressed chunk to dir every chunkSize games. An empty dir disables
// persistence.
func New(dir string, windowSize, chunkSize int) *Storage {
	return &Storage{
		windowSize: windowSize,
		chunkSize:  chunkSize,
		dir:        dir,
	}
}

// AddGame appends a finished game, evicting the oldest beyond the window,
// and flushes a chunk when enough new games have accumulated.
func (s *Storage) AddGame(stored StoredGame) error {
	s.mu.Lock()
	s.games = append(s.games, stored)
	s.gamesSeen++
	s.pendingLen++
	if len(s.games) > s.windowSize {
		s.games = s.games[len(s.games)-s.windowSize:]
	}
	flush := s.dir != "" && s.chunkSize > 0 && s.pendingLen >= s.chunkSize
	var chunk []StoredGame
	var chunkIndex int
	if flush {
		n := s.pendingLen
		if n > len(s.games) {
			n = len(s.games)
		}
		chunk = append(chunk, s.games[len(s.games)-n:]...)
		chunkIndex = s.gamesSeen / s.chunkSize
		s.pendingLen = 0
	}
	s.mu.Unlock()

	if !flush {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("games_%09d.chunk", chunkIndex))
	return SaveChunk(path, chunk)
}

func (s *Storage) GamesSeen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gamesSeen
}

func (s *Storage) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

// RecentGames copies the newest n games from the window, newest last.
func (s *Storage) RecentGames(n int) []StoredGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.games) {
		n = len(s.games)
	}
	out := make([]StoredGame, n)
	copy(out, s.games[len(s.games)-n:])
	return out
}

// SaveChunk writes games as a zstd-compressed gob stream.
func SaveChunk(path string, games []StoredGame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := gob.NewEncoder(zw).Encode(games); err != nil {
		zw.Close()
		return errors.Wrapf(err, "encoding chunk %q", path)
	}
	if err := zw.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}

// LoadChunk reads a chunk written by SaveChunk.
func LoadChunk(path string) ([]StoredGame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	var games []StoredGame
	if err := gob.NewDecoder(zr).Decode(&games); err != nil {
		return nil, errors.Wrapf(err, "decoding chunk %q", path)
	}
	return games, nil
}

// LoadDir restores every chunk under dir into the window, oldest first.
func (s *Storage) LoadDir() error {
	if s.dir == "" {
		return nil
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "games_*.chunk"))
	if err != nil {
		return errors.WithStack(err)
	}
	sort.Strings(paths)
	for _, path := range paths {
		games, err := LoadChunk(path)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.games = append(s.games, games...)
		s.gamesSeen += len(games)
		if len(s.games) > s.windowSize {
			s.games = s.games[len(s.games)-s.windowSize:]
		}
		s.mu.Unlock()
	}
	return nil
}

// SampleBatch draws batchSize uniform (game, ply) pairs from the window and
// replays each game to the sampled ply, producing image, value and policy
// tensors ready for training. Values are the stored search values, already
// relative to the side to move at the sampled position.
func (s *Storage) SampleBatch(batchSize int, rng *rand.Rand) (images, values, policies *tensor.Dense, err error) {
	s.mu.Lock()
	window := s.games
	s.mu.Unlock()
	if len(window) == 0 {
		return nil, nil, nil, errors.New("storage: no games to sample")
	}

	imageBacking := make([]float32, batchSize*game.ImageSize)
	valueBacking := make([]float32, batchSize)
	policyBacking := make([]float32, batchSize*game.PolicySize)

	for i := 0; i < batchSize; i++ {
		stored := &window[rng.Intn(len(window))]
		ply := rng.Intn(stored.MoveCount())

		position := game.NewPosition()
		for _, move := range stored.Moves[:ply] {
			if err := position.Apply(move); err != nil {
				return nil, nil, nil, errors.Wrapf(err, "replaying move %v at ply %d", move, ply)
			}
		}

		game.GenerateImageInto(imageBacking[i*game.ImageSize:(i+1)*game.ImageSize], position)
		valueBacking[i] = stored.MctsValues[ply]
		game.GeneratePolicyInto(policyBacking[i*game.PolicySize:(i+1)*game.PolicySize],
			position.ToPlay(), stored.ChildVisits[ply])
	}

	images = tensor.New(tensor.WithShape(batchSize, game.InputPlaneCount, 8, 8), tensor.WithBacking(imageBacking))
	values = tensor.New(tensor.WithShape(batchSize, 1), tensor.WithBacking(valueBacking))
	policies = tensor.New(tensor.WithShape(batchSize, game.PolicySize), tensor.WithBacking(policyBacking))
	return images, values, policies, nil
}
