package view

import (
	"sync"

	"github.com/zappabad/tickreplay/internal/broker"
)

// OrderTape keeps the most recent executed orders, globally and per broker.
type OrderTape struct {
	mu       sync.RWMutex
	all      []broker.Order
	byBroker map[string][]broker.Order
	capacity int
}

// NewOrderTape creates an OrderTape keeping up to capacity orders per list.
func NewOrderTape(capacity int) *OrderTape {
	if capacity <= 0 {
		capacity = 100
	}
	return &OrderTape{
		all:      make([]broker.Order, 0, capacity),
		byBroker: make(map[string][]broker.Order),
		capacity: capacity,
	}
}

// Add appends an executed order.
func (v *OrderTape) Add(o broker.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.all = v.push(v.all, o)
	v.byBroker[o.BrokerID] = v.push(v.byBroker[o.BrokerID], o)
}

func (v *OrderTape) push(list []broker.Order, o broker.Order) []broker.Order {
	if len(list) >= v.capacity {
		// Remove oldest
		list = list[1:]
	}
	return append(list, o)
}

// Last returns up to n of the most recent orders, oldest first.
func (v *OrderTape) Last(n int) []broker.Order {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return tail(v.all, n)
}

// ForBroker returns up to n of the broker's most recent orders, oldest first.
func (v *OrderTape) ForBroker(brokerID string, n int) []broker.Order {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return tail(v.byBroker[brokerID], n)
}

// Forget drops the broker's per-broker list.
func (v *OrderTape) Forget(brokerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.byBroker, brokerID)
}

func tail(list []broker.Order, n int) []broker.Order {
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]broker.Order, n)
	copy(out, list[len(list)-n:])
	return out
}
