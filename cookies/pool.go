// Package cookies rotates cookie sets across requests, steering away from
// sets that were recently refused by the upstream.
package cookies

import "sync"

type entry struct {
	cookies string
	penalty int
	weight  int // running SWRR weight
}

// Pool picks cookie sets by smooth weighted round-robin. A set's weight is
// maxPenalty - penalty + 1, so refused sets are chosen less often but never
// starve. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries []entry
}

// NewPool builds a pool from cookie strings. Duplicates and empty strings are dropped.
func NewPool(sets []string) *Pool {
	p := &Pool{}
	p.entries = merge(nil, sets)
	return p
}

// Select returns the next cookie set, or "" for an empty pool.
func (p *Pool) Select() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch len(p.entries) {
	case 0:
		return ""
	case 1:
		return p.entries[0].cookies
	}

	maxPenalty := 0
	for _, e := range p.entries {
		maxPenalty = max(maxPenalty, e.penalty)
	}

	total, best := 0, 0
	for i := range p.entries {
		w := maxPenalty - p.entries[i].penalty + 1
		p.entries[i].weight += w
		total += w
		if p.entries[i].weight > p.entries[best].weight {
			best = i
		}
	}
	p.entries[best].weight -= total
	return p.entries[best].cookies
}

// Penalize records a refusal for the given set.
func (p *Pool) Penalize(cookies string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.entries {
		if p.entries[i].cookies == cookies {
			p.entries[i].penalty++
			break
		}
	}
	p.reroot()
}

// Update replaces the pool contents. Sets present before keep their penalty.
func (p *Pool) Update(sets []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = merge(p.entries, sets)
	p.reroot()
}

// Count returns the number of cookie sets.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Penalty reports the current penalty of a set, -1 if unknown.
func (p *Pool) Penalty(cookies string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.cookies == cookies {
			return e.penalty
		}
	}
	return -1
}

func merge(old []entry, sets []string) []entry {
	penalties := make(map[string]int, len(old))
	for _, e := range old {
		penalties[e.cookies] = e.penalty
	}
	seen := make(map[string]struct{}, len(sets))
	var out []entry
	for _, c := range sets {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, entry{cookies: c, penalty: penalties[c]})
	}
	return out
}

// reroot keeps the lowest penalty at 0. Caller holds p.mu.
func (p *Pool) reroot() {
	if len(p.entries) == 0 {
		return
	}
	lowest := p.entries[0].penalty
	for _, e := range p.entries[1:] {
		lowest = min(lowest, e.penalty)
	}
	for i := range p.entries {
		p.entries[i].penalty -= lowest
	}
}
