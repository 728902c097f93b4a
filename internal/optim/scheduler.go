package optim

import "math"

// PlateauConfig configures ReduceLROnPlateau.
type PlateauConfig struct {
	Factor    float32 // Multiplier applied on reduction (default: 0.1)
	Patience  int     // Non-improving steps tolerated before reducing
	Threshold float64 // Relative improvement required (default: 1e-4)
	MinLR     float32 // Lower bound for the learning rate
	Eps       float32 // Reductions smaller than this are skipped (default: 1e-8)
}

// ReduceLROnPlateau lowers the optimizer's learning rate when a monitored
// metric stops decreasing.
//
// A value counts as an improvement when
//
//	value < best * (1 - threshold)
//
// Once more than Patience consecutive steps fail to improve, the learning
// rate becomes max(lr*factor, minLR) and the counter restarts.
type ReduceLROnPlateau struct {
	opt       Optimizer
	factor    float32
	patience  int
	threshold float64
	minLR     float32
	eps       float32

	best      float64
	numBad    int
	numReduce int
}

// NewReduceLROnPlateau attaches a plateau scheduler to opt.
func NewReduceLROnPlateau(opt Optimizer, config PlateauConfig) *ReduceLROnPlateau {
	if config.Factor == 0 {
		config.Factor = 0.1
	}
	if config.Factor >= 1 {
		panic("optim: plateau factor must be < 1")
	}
	if config.Threshold == 0 {
		config.Threshold = 1e-4
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &ReduceLROnPlateau{
		opt:       opt,
		factor:    config.Factor,
		patience:  config.Patience,
		threshold: config.Threshold,
		minLR:     config.MinLR,
		eps:       config.Eps,
		best:      math.Inf(1),
	}
}

// Step records one observation of the monitored metric and reports whether
// the learning rate was reduced.
func (s *ReduceLROnPlateau) Step(metric float64) bool {
	if metric < s.best*(1-s.threshold) {
		s.best = metric
		s.numBad = 0
	} else {
		s.numBad++
	}

	if s.numBad <= s.patience {
		return false
	}
	s.numBad = 0

	old := s.opt.GetLR()
	next := max(old*s.factor, s.minLR)
	if old-next <= s.eps {
		return false
	}
	s.opt.SetLR(next)
	s.numReduce++
	return true
}

// Best returns the best metric observed so far (+Inf before the first step).
func (s *ReduceLROnPlateau) Best() float64 {
	return s.best
}

// NumBadEpochs returns the current count of non-improving steps.
func (s *ReduceLROnPlateau) NumBadEpochs() int {
	return s.numBad
}

// Reductions returns how many times the learning rate has been lowered.
func (s *ReduceLROnPlateau) Reductions() int {
	return s.numReduce
}
