package nn

import (
	"sync/atomic"

	"github.com/temposearch/tempo/game"
	"gorgonia.org/tensor"
)

// Uniform is a stand-in network: every position evaluates to an even game
// with a flat policy. Useful for generating bootstrap data and for tests
// that need deterministic search behavior. It honors Disable/Enable so the
// failure path can be exercised without a real model.
type Uniform struct {
	disabled uint32
}

var _ Network = (*Uniform)(nil)
var _ Toggleable = (*Uniform)(nil)

func NewUniform() *Uniform { return &Uniform{} }

func (u *Uniform) Disable() { atomic.StoreUint32(&u.disabled, 1) }
func (u *Uniform) Enable()  { atomic.StoreUint32(&u.disabled, 0) }

func (u *Uniform) PredictBatch(networkType NetworkType, images [][]float32, values []float32, policies [][]float32) PredictionStatus {
	if atomic.LoadUint32(&u.disabled) != 0 {
		return PredictionDisabled
	}
	for i := range images {
		values[i] = game.ValueDraw
		policy := policies[i]
		for j := range policy {
			policy[j] = 0
		}
	}
	return PredictionSuccess
}

func (u *Uniform) TrainBatch(networkType NetworkType, images, values, policies *tensor.Dense, step int) error {
	return nil
}

func (u *Uniform) SaveNetwork(networkType NetworkType, checkpoint int) error { return nil }
