package session

import "sync"

// Locker is an in-process, per-session try-lock. It does not span replicas;
// the version column covers that case.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock claims id. It returns false if another request holds it.
func (l *Locker) TryLock(id string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return nil, false
	}
	l.held[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, true
}
