package server

import "sync"

// gameLocks serializes state-mutating operations per game id. Cross-game
// requests proceed in parallel; the only suspension point inside a held lock
// is the storage transaction itself.
type gameLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for gameID and returns its unlock func.
func (l *gameLocks) lock(gameID string) func() {
	l.mu.Lock()
	m, ok := l.locks[gameID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[gameID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
