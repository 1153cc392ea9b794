package txn

import "math"

// Depth is the nesting level of the open transaction. The zero value means
// no transaction is open; otherwise it counts BEGIN plus SAVEPOINT levels.
type Depth struct {
	n uint32
}

// Get returns the level and whether a transaction is open.
func (d Depth) Get() (uint32, bool) { return d.n, d.n > 0 }

func (d Depth) increment() Depth {
	if d.n == math.MaxUint32 {
		return d
	}
	return Depth{n: d.n + 1}
}

func (d Depth) decrement() Depth {
	if d.n == 0 {
		return d
	}
	return Depth{n: d.n - 1}
}

// State is the transaction status of one connection: valid at some depth,
// or broken. Broken is terminal.
type State struct {
	depth  Depth
	broken bool
}

// Depth returns the current depth, or ErrBrokenTransaction.
func (s *State) Depth() (Depth, error) {
	if s.broken {
		return Depth{}, ErrBrokenTransaction
	}
	return s.depth, nil
}

// IsBroken reports whether the state has been marked broken.
func (s *State) IsBroken() bool { return s.broken }

func (s *State) markBroken() {
	s.broken = true
	s.depth = Depth{}
}

func (s *State) incrementDepth() {
	if !s.broken {
		s.depth = s.depth.increment()
	}
}

func (s *State) decrementDepth() {
	if !s.broken {
		s.depth = s.depth.decrement()
	}
}
