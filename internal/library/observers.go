package library

import (
	"sync"

	"github.com/not-nullexception/ziply/internal/library/models"
)

// Observers is a registry of authorization observers shared by library implementations.
type Observers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]AuthorizationObserver
}

// Subscribe adds observer and returns a function that removes it
func (o *Observers) Subscribe(observer AuthorizationObserver) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.subs == nil {
		o.subs = make(map[int]AuthorizationObserver)
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = observer

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Notify calls every observer with status outside the registry lock
func (o *Observers) Notify(status models.AuthorizationStatus) {
	o.mu.Lock()
	subs := make([]AuthorizationObserver, 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.mu.Unlock()

	for _, s := range subs {
		s(status)
	}
}
