package realtime

import "sync"

type listeners struct {
	mu      sync.RWMutex
	nextID  uint64
	byEvent map[string]map[uint64]func([]byte)
}

func newListeners() *listeners {
	return &listeners{byEvent: make(map[string]map[uint64]func([]byte))}
}

// add registers handler for event and returns a func removing only that handler.
func (l *listeners) add(event string, handler func([]byte)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	if l.byEvent[event] == nil {
		l.byEvent[event] = make(map[uint64]func([]byte))
	}
	l.byEvent[event][id] = handler
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.byEvent[event], id)
			if len(l.byEvent[event]) == 0 {
				delete(l.byEvent, event)
			}
		})
	}
}

func (l *listeners) dispatch(event string, data []byte) int {
	l.mu.RLock()
	handlers := make([]func([]byte), 0, len(l.byEvent[event]))
	for _, h := range l.byEvent[event] {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return len(handlers)
}

func (l *listeners) count(event string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byEvent[event])
}
