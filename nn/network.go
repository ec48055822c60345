// Package nn is the boundary to the neural network: batched evaluation for
// search, plus training and checkpointing hooks. The engine core only ever
// sees raw float32 buffers and tensors; whatever executes the model lives
// behind the Network interface.
package nn

import "gorgonia.org/tensor"

// PredictionStatus reports how a batch resolved.
type PredictionStatus int

const (
	// PredictionSuccess means values and policies are filled for the batch.
	PredictionSuccess PredictionStatus = iota
	// PredictionDisabled means the network is administratively paused, for
	// example during a weight swap; outputs are untouched and the caller
	// must fail the in-flight simulations rather than retry.
	PredictionDisabled
)

// NetworkType selects which of the model's heads services a request.
type NetworkType int

const (
	NetworkTeacher NetworkType = iota
	NetworkStudent
)

// Network evaluates positions for search and consumes training batches.
// PredictBatch blocks until the whole batch is evaluated; every slice is
// caller-owned and len(values) == len(images) == len(policies).
type Network interface {
	PredictBatch(networkType NetworkType, images [][]float32, values []float32, policies [][]float32) PredictionStatus
	TrainBatch(networkType NetworkType, images, values, policies *tensor.Dense, step int) error
	SaveNetwork(networkType NetworkType, checkpoint int) error
}

// Toggleable is implemented by networks that support administrative pause.
type Toggleable interface {
	Disable()
	Enable()
}
