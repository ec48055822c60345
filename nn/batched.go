package nn

// Batched caps the batch size seen by the underlying network, splitting
// oversized requests into sequential sub-batches. Workers size requests by
// their slot count, which need not match what the model was exported for.
type Batched struct {
	Network
	MaxBatch int
}

func NewBatched(network Network, maxBatch int) *Batched {
	return &Batched{Network: network, MaxBatch: maxBatch}
}

func (b *Batched) PredictBatch(networkType NetworkType, images [][]float32, values []float32, policies [][]float32) PredictionStatus {
	if b.MaxBatch <= 0 || len(images) <= b.MaxBatch {
		return b.Network.PredictBatch(networkType, images, values, policies)
	}
	for start := 0; start < len(images); start += b.MaxBatch {
		end := start + b.MaxBatch
		if end > len(images) {
			end = len(images)
		}
		status := b.Network.PredictBatch(networkType, images[start:end], values[start:end], policies[start:end])
		if status != PredictionSuccess {
			return status
		}
	}
	return PredictionSuccess
}
