// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - AdamW: Adam with decoupled weight decay
//   - ReduceLROnPlateau: learning-rate decay driven by a monitored metric
//
// Gradients live on the parameters themselves: layers accumulate into
// Parameter.Grad during Backward, Step consumes them, ZeroGrad clears them.
//
// Example usage:
//
//	optimizer := optim.NewAdamW(model.Parameters(), optim.AdamWConfig{
//	    LR:          0.001,
//	    WeightDecay: 0.01,
//	})
//	scheduler := optim.NewReduceLROnPlateau(optimizer, optim.PlateauConfig{
//	    Factor:   0.1,
//	    Patience: 2,
//	})
//
//	for epoch := range epochs {
//	    for batch := range batches {
//	        optimizer.ZeroGrad()
//	        logits := model.Forward(batch.Images)
//	        loss := criterion.Forward(logits, batch.Labels)
//	        model.Backward(criterion.Backward())
//	        optimizer.Step()
//	    }
//	    scheduler.Step(valLoss)
//	}
package optim

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update to every parameter from its accumulated
	// gradient.
	Step()

	// ZeroGrad clears all parameter gradients.
	//
	// This should be called before each backward pass to prevent
	// gradient accumulation from previous iterations.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR replaces the learning rate. Used by schedulers.
	SetLR(lr float32)
}
