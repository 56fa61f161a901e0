package farm

import "sync"

// Ledger is the shared inventory: typed item quantities under a total
// capacity, plus the monetary balance. It is the only shared mutable state in
// the simulation, so every mutation is check-then-act under one lock.
type Ledger struct {
	mu       sync.Mutex
	items    map[string]int
	capacity int
	balance  float64
}

func NewLedger(capacity int, balance float64) *Ledger {
	return &Ledger{
		items:    map[string]int{},
		capacity: capacity,
		balance:  balance,
	}
}

// Add stores qty of item. Fails without mutating when qty <= 0 or the total
// stored quantity would exceed capacity.
func (l *Ledger) Add(item string, qty int) bool {
	if qty <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totalLocked()+qty > l.capacity {
		return false
	}
	l.items[item] += qty
	return true
}

// Remove takes qty of item. Fails when qty <= 0 or stock is insufficient.
func (l *Ledger) Remove(item string, qty int) bool {
	if qty <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.items[item] < qty {
		return false
	}
	l.items[item] -= qty
	return true
}

// Spend debits the balance. Fails when amount exceeds the balance; the
// balance never goes negative.
func (l *Ledger) Spend(amount float64) bool {
	if amount < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.balance {
		return false
	}
	l.balance -= amount
	return true
}

// Credit adds sale proceeds to the balance.
func (l *Ledger) Credit(amount float64) {
	if amount < 0 {
		return
	}
	l.mu.Lock()
	l.balance += amount
	l.mu.Unlock()
}

func (l *Ledger) Has(item string, qty int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items[item] >= qty
}

func (l *Ledger) Quantity(item string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items[item]
}

func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

func (l *Ledger) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.totalLocked()
}

func (l *Ledger) IsFull() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked() >= l.capacity
}

func (l *Ledger) Capacity() int { return l.capacity }

func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Snapshot copies the non-zero item quantities and the balance.
func (l *Ledger) Snapshot() (map[string]int, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.items))
	for k, v := range l.items {
		if v > 0 {
			out[k] = v
		}
	}
	return out, l.balance
}

func (l *Ledger) totalLocked() int {
	total := 0
	for _, v := range l.items {
		total += v
	}
	return total
}
