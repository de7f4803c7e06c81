package storage

import "sync"

// changeNotifier fans out "character changed" signals. Each subscriber channel
// holds at most one pending signal, so bursts coalesce.
type changeNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int64]map[int]chan struct{}
}

func newChangeNotifier() *changeNotifier {
	return &changeNotifier{subs: make(map[int64]map[int]chan struct{})}
}

func (n *changeNotifier) subscribe(characterID int64) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := n.nextID
	n.nextID++
	if n.subs[characterID] == nil {
		n.subs[characterID] = make(map[int]chan struct{})
	}
	n.subs[characterID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[characterID], id)
			if len(n.subs[characterID]) == 0 {
				delete(n.subs, characterID)
			}
			close(ch)
		})
	}
}

func (n *changeNotifier) publish(characterID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[characterID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// keyedMutex hands out one mutex per character guid.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
