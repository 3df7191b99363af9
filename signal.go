// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"sync"
	"sync/atomic"
)

// signal is a multicast list of subscribers. Notify invokes every
// subscriber registered at the time of the call, in subscription order.
// Subscribing or unsubscribing from inside a callback is safe; the change
// applies to the next Notify.
type signal[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]subscriber[T]]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (s *signal[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	var next []subscriber[T]
	if cur := s.subs.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, subscriber[T]{id: id, fn: fn})
	s.subs.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.subs.Load()
	if cur == nil {
		return
	}
	next := make([]subscriber[T], 0, len(*cur))
	for _, sub := range *cur {
		if sub.id != id {
			next = append(next, sub)
		}
	}
	s.subs.Store(&next)
}

// Notify delivers v to every current subscriber.
func (s *signal[T]) Notify(v T) {
	cur := s.subs.Load()
	if cur == nil {
		return
	}
	for _, sub := range *cur {
		sub.fn(v)
	}
}

// Len returns the number of subscribers.
func (s *signal[T]) Len() int {
	cur := s.subs.Load()
	if cur == nil {
		return 0
	}
	return len(*cur)
}
