package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temposearch/tempo/game"
)

func TestUniformPredictBatch(t *testing.T) {
	u := NewUniform()

	images := [][]float32{game.NewImage(), game.NewImage()}
	values := make([]float32, 2)
	policies := [][]float32{game.NewPolicy(), game.NewPolicy()}
	policies[0][17] = 3 // stale slot contents must be overwritten

	status := u.PredictBatch(NetworkTeacher, images, values, policies)
	require.Equal(t, PredictionSuccess, status)

	for _, v := range values {
		assert.Equal(t, game.ValueDraw, v)
	}
	for _, policy := range policies {
		for _, p := range policy {
			assert.Equal(t, float32(0), p, "zero logits softmax to a flat prior downstream")
		}
	}
}

func TestUniformDisableEnable(t *testing.T) {
	u := NewUniform()

	images := [][]float32{game.NewImage()}
	values := make([]float32, 1)
	policies := [][]float32{game.NewPolicy()}

	u.Disable()
	assert.Equal(t, PredictionDisabled, u.PredictBatch(NetworkTeacher, images, values, policies))

	u.Enable()
	assert.Equal(t, PredictionSuccess, u.PredictBatch(NetworkTeacher, images, values, policies))
}
