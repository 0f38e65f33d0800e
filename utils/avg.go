package utils

import "sync"

// MovingAvg is an exponentially weighted moving average. The first sample
// seeds it.
type MovingAvg struct {
	lock  sync.Mutex
	alpha float64
	v     float64
	count uint64
}

// NewMovingAvg weighs every new sample by alpha, 0 < alpha <= 1.
func NewMovingAvg(alpha float64) *MovingAvg {
	return &MovingAvg{alpha: alpha}
}

func (a *MovingAvg) Add(val float64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.count == 0 {
		a.v = val
	} else {
		a.v += a.alpha * (val - a.v)
	}
	a.count++
}

func (a *MovingAvg) Val() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.v
}

// Count is the number of samples added.
func (a *MovingAvg) Count() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.count
}
