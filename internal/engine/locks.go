package engine

import "sync"

// marketLocks hands out one mutex per market ID so that trade, resolve,
// and redeem on the same market serialize while different markets stay
// independently tradable. Locks are never released from the map; the
// set of markets is small and long-lived.
type marketLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMarketLocks() *marketLocks {
	return &marketLocks{locks: make(map[string]*sync.Mutex)}
}

func (m *marketLocks) get(marketID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[marketID] = l
	}
	return l
}
