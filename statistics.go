package tempo

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
)

// IterationStats summarizes one self-play iteration.
type IterationStats struct {
	Iteration     int
	Games         int
	WhiteWins     int
	BlackWins     int
	Draws         int
	TotalPlies    int
	StrengthScore int
	StrengthMax   int
}

// Statistics accumulates per-iteration results across a training run.
type Statistics struct {
	mu         sync.Mutex
	Iterations []IterationStats
}

func makeStatistics() Statistics {
	return Statistics{
		Iterations: make([]IterationStats, 0, 64),
	}
}

func (s *Statistics) update(stats IterationStats) {
	s.mu.Lock()
	s.Iterations = append(s.Iterations, stats)
	s.mu.Unlock()
}

// recordGame folds one finished game into the pending iteration stats.
// result is from white's perspective.
func (st *IterationStats) recordGame(result float32, plies int) {
	st.Games++
	st.TotalPlies += plies
	switch {
	case result > 0.5:
		st.WhiteWins++
	case result < 0.5:
		st.BlackWins++
	default:
		st.Draws++
	}
}

func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	header := []string{"iteration", "games", "white_wins", "black_wins", "draws", "avg_plies", "strength_score", "strength_max"}
	if err := w.Write(header); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var records [][]string
	for _, it := range s.Iterations {
		avgPlies := float32(0)
		if it.Games > 0 {
			avgPlies = float32(it.TotalPlies) / float32(it.Games)
		}
		records = append(records, []string{
			strconv.Itoa(it.Iteration),
			strconv.Itoa(it.Games),
			strconv.Itoa(it.WhiteWins),
			strconv.Itoa(it.BlackWins),
			strconv.Itoa(it.Draws),
			strconv.FormatFloat(float64(avgPlies), 'f', 1, 32),
			strconv.Itoa(it.StrengthScore),
			strconv.Itoa(it.StrengthMax),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
