package rate

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second, holding at
// most burst tokens.
type Limiter struct {
	rate       float64
	burst      float64
	lastUpdate time.Time
	allowance  float64
	mutex      sync.Mutex
}

func NewLimiter(rate float64, burst float64) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		lastUpdate: time.Now(),
		allowance:  burst,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowAt(time.Now())
}

func (l *Limiter) AllowAt(now time.Time) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	elapsed := now.Sub(l.lastUpdate)
	if elapsed > 0 {
		l.lastUpdate = now
		l.allowance += elapsed.Seconds() * l.rate
		if l.allowance > l.burst {
			l.allowance = l.burst
		}
	}

	if l.allowance < 1.0 {
		return false
	}

	l.allowance -= 1.0
	return true
}

// Set keeps one Limiter per key. A zero or negative rate disables limiting.
type Set[K comparable] struct {
	rate     float64
	burst    float64
	limiters map[K]*Limiter
	mutex    sync.Mutex
}

func NewSet[K comparable](rate float64, burst float64) *Set[K] {
	return &Set[K]{
		rate:     rate,
		burst:    burst,
		limiters: make(map[K]*Limiter),
	}
}

func (s *Set[K]) Enabled() bool {
	return s.rate > 0
}

func (s *Set[K]) Allow(key K) bool {
	if !s.Enabled() {
		return true
	}

	s.mutex.Lock()
	l, ok := s.limiters[key]
	if !ok {
		l = NewLimiter(s.rate, s.burst)
		s.limiters[key] = l
	}
	s.mutex.Unlock()

	return l.Allow()
}

// Forget drops the limiter for key, e.g. once its peer is gone.
func (s *Set[K]) Forget(key K) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.limiters, key)
}

func (s *Set[K]) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.limiters)
}
