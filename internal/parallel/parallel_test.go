package parallel

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	order := make([]int, 0, 10)
	For(10, func(i int) {
		order = append(order, i)
	}, cfg)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestFor_CoarseVisitsEveryIndexOnce(t *testing.T) {
	cfg := CoarseConfig()
	cfg.Enabled = true
	cfg.NumWorkers = 4

	hits := make([]int32, 7)
	For(len(hits), func(i int) {
		atomic.AddInt32(&hits[i], 1)
	}, cfg)

	for i, h := range hits {
		assert.Equal(t, int32(1), h, "index %d", i)
	}
}

func TestForErr_ReturnsLowestIndexError(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")

	err := ForErr(8, func(i int) error {
		switch i {
		case 3:
			return errA
		case 6:
			return errB
		}
		return nil
	}, CoarseConfig())

	assert.ErrorIs(t, err, errA)
	assert.NoError(t, ForErr(4, func(int) error { return nil }, CoarseConfig()))
}
