package rotation

import "sync"

// State 在有序列表上循环游标，供展示端逐条轮播
type State[T any] struct {
	mu     sync.RWMutex
	items  []T
	cursor int
}

func New[T any]() *State[T] {
	return &State[T]{}
}

// Replace 整体替换列表并把游标归零
func (s *State[T]) Replace(items []T) {
	cp := make([]T, len(items))
	copy(cp, items)

	s.mu.Lock()
	s.items = cp
	s.cursor = 0
	s.mu.Unlock()
}

// Advance 返回 items[cursor % len] 后游标加一；列表为空时 ok 为 false
func (s *State[T]) Advance() (item T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return item, false
	}
	item = s.items[s.cursor%len(s.items)]
	s.cursor++
	return item, true
}

// Current 返回最近一次 Advance 给出的条目，不移动游标
func (s *State[T]) Current() (item T, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 || s.cursor == 0 {
		return item, false
	}
	return s.items[(s.cursor-1)%len(s.items)], true
}

func (s *State[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func (s *State[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
