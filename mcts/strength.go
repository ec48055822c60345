package mcts

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/temposearch/tempo/game"
	"github.com/temposearch/tempo/nn"
)

// StrengthTestSpec is one EPD test position: find (or avoid) the annotated
// moves, with optional graded points per candidate move.
type StrengthTestSpec struct {
	FEN        string
	ID         string
	BestMoves  []string
	AvoidMoves []string
	PointsSan  map[string]int
}

const strengthTestFullPoints = 10

// MaxPoints is the score for a perfect answer on this position.
func (s *StrengthTestSpec) MaxPoints() int {
	max := 0
	for _, points := range s.PointsSan {
		if points > max {
			max = points
		}
	}
	if max == 0 && len(s.BestMoves) > 0 {
		max = strengthTestFullPoints
	}
	return max
}

// ParseEpd parses a single EPD record: four FEN fields followed by
// semicolon-terminated operations (bm, am, id, c0).
func ParseEpd(line string) (StrengthTestSpec, error) {
	var spec StrengthTestSpec
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return spec, errors.Errorf("epd: short record %q", line)
	}
	// EPD carries no clock fields; synthesize them for the FEN parser.
	spec.FEN = strings.Join(fields[:4], " ") + " 0 1"

	ops := strings.Join(fields[4:], " ")
	for _, op := range strings.Split(ops, ";") {
		op = strings.TrimSpace(op)
		if op == "" {
			continue
		}
		parts := strings.SplitN(op, " ", 2)
		if len(parts) != 2 {
			continue
		}
		opcode, operand := parts[0], strings.TrimSpace(parts[1])
		switch opcode {
		case "bm":
			spec.BestMoves = strings.Fields(operand)
		case "am":
			spec.AvoidMoves = strings.Fields(operand)
		case "id":
			spec.ID = strings.Trim(operand, `"`)
		case "c0":
			// Graded alternatives: c0 "Nf3=10, d4=5".
			spec.PointsSan = map[string]int{}
			for _, entry := range strings.Split(strings.Trim(operand, `"`), ",") {
				entry = strings.TrimSpace(entry)
				kv := strings.SplitN(entry, "=", 2)
				if len(kv) != 2 {
					continue
				}
				points, err := strconv.Atoi(strings.TrimSpace(kv[1]))
				if err != nil {
					continue
				}
				spec.PointsSan[strings.TrimSpace(kv[0])] = points
			}
		}
	}
	return spec, nil
}

// LoadEpd reads every record in an EPD file, skipping blank lines and
// comments.
func LoadEpd(path string) ([]StrengthTestSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var specs []StrengthTestSpec
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		spec, err := ParseEpd(line)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, errors.WithStack(scanner.Err())
}

// StrengthTestProgress reports one judged position.
type StrengthTestProgress func(spec *StrengthTestSpec, chosen game.Move, points, maxPoints, nodes int)

// StrengthTestEpd searches every position in the file and totals the graded
// score. Returns score, total possible, positions played, and failures
// (positions earning zero).
func (w *SelfPlayWorker) StrengthTestEpd(network nn.Network, networkType nn.NetworkType, path string,
	moveTimeMs int64, nodeLimit, positionLimit int, progress StrengthTestProgress) (int, int, int, int, error) {

	specs, err := LoadEpd(path)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if positionLimit > 0 && len(specs) > positionLimit {
		specs = specs[:positionLimit]
	}

	score, total, failures := 0, 0, 0
	for i := range specs {
		spec := &specs[i]
		chosen, nodes, err := w.StrengthTestPosition(network, networkType, spec, moveTimeMs, nodeLimit)
		if err != nil {
			return score, total, i, failures, err
		}
		points, maxPoints := w.JudgeStrengthTestPosition(spec, chosen)
		score += points
		total += maxPoints
		if points == 0 {
			failures++
		}
		if progress != nil {
			progress(spec, chosen, points, maxPoints, nodes)
		}
	}
	return score, total, len(specs), failures, nil
}

// StrengthTestPosition searches one position under a move-time or node
// budget using this worker's first slot and returns the chosen move.
func (w *SelfPlayWorker) StrengthTestPosition(network nn.Network, networkType nn.NetworkType,
	spec *StrengthTestSpec, moveTimeMs int64, nodeLimit int) (game.Move, int, error) {

	if err := w.SetUpSearchGame(0, spec.FEN, nil); err != nil {
		return 0, 0, errors.Wrapf(err, "epd position %q", spec.ID)
	}
	g := w.games[0]
	w.searchState.Reset(TimeControl{MoveTimeMs: moveTimeMs, Nodes: nodeLimit})

	if moveTimeMs <= 0 && nodeLimit <= 0 {
		nodeLimit = w.searchState.Config.SimulationLimit
	}
	var deadline time.Time
	if moveTimeMs > 0 {
		deadline = time.Now().Add(time.Duration(moveTimeMs) * time.Millisecond)
	}
	for {
		if nodeLimit > 0 && int(w.searchState.NodeCount()) >= nodeLimit {
			break
		}
		if moveTimeMs > 0 && !time.Now().Before(deadline) {
			break
		}
		if t := g.Root().Terminal(); !t.IsNonTerminal() {
			break
		}
		if w.stepSimulation(0, g) == simSuspended {
			w.predictBatch(network, networkType)
		}
	}
	if !g.Root().IsExpanded() || g.Root().ChildCount() == 0 {
		return 0, int(w.searchState.NodeCount()), errors.Errorf("epd position %q: no legal root moves searched", spec.ID)
	}
	best := w.SelectMove(g, false)
	return best.Move(), int(w.searchState.NodeCount()), nil
}

// JudgeStrengthTestPosition grades the chosen move: graded points when the
// position carries them, full points for an annotated best move, zero for an
// avoid move or anything else.
func (w *SelfPlayWorker) JudgeStrengthTestPosition(spec *StrengthTestSpec, chosen game.Move) (int, int) {
	maxPoints := spec.MaxPoints()
	position, err := game.NewPositionFEN(spec.FEN)
	if err != nil {
		return 0, maxPoints
	}

	resolve := func(san string) (game.Move, bool) {
		move, err := position.ParseSAN(san)
		if err != nil {
			return 0, false
		}
		return game.PackMove(move), true
	}

	for _, san := range spec.AvoidMoves {
		if move, ok := resolve(san); ok && move == chosen {
			return 0, maxPoints
		}
	}
	for san, points := range spec.PointsSan {
		if move, ok := resolve(san); ok && move == chosen {
			return points, maxPoints
		}
	}
	for _, san := range spec.BestMoves {
		if move, ok := resolve(san); ok && move == chosen {
			return maxPoints, maxPoints
		}
	}
	return 0, maxPoints
}

// LoopStrengthTest participates in strength testing exactly like an
// interactive search worker: the controller drives positions while workers
// pump simulations.
func (w *SelfPlayWorker) LoopStrengthTest(coordinator *WorkCoordinator, network nn.Network, networkType nn.NetworkType, primary bool) {
	w.LoopSearch(coordinator, network, networkType, primary)
}
