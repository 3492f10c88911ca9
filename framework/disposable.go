package framework

import "sync"

// Disposable releases a listener or resource registration.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func()

// Dispose calls f.
func (f DisposeFunc) Dispose() {
	if f != nil {
		f()
	}
}

// Disposables collects registrations that share a lifetime.
type Disposables struct {
	mu    sync.Mutex
	items []Disposable
}

// Add tracks d until the next DisposeAll.
func (d *Disposables) Add(items ...Disposable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, item := range items {
		if item != nil {
			d.items = append(d.items, item)
		}
	}
}

// Len reports how many registrations are tracked.
func (d *Disposables) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// DisposeAll releases every tracked registration in order and clears the set.
func (d *Disposables) DisposeAll() {
	d.mu.Lock()
	items := d.items
	d.items = nil
	d.mu.Unlock()
	for _, item := range items {
		item.Dispose()
	}
}
