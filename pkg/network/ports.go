package network

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/minepanel/pkg/types"
)

// MinDynamicPort is the lowest port handed out by ClaimNext
const MinDynamicPort = 1024

// Reservations tracks host ports claimed by deploys that have been accepted
// but whose containers do not exist yet. Once the runtime carries the
// bindings, the claims are released.
type Reservations struct {
	mu    sync.Mutex
	ports map[int]string // host port -> canonical name
}

// NewReservations creates an empty reservation table
func NewReservations() *Reservations {
	return &Reservations{
		ports: make(map[int]string),
	}
}

// Claim reserves a host port for an instance. Claiming a port already held
// by another owner fails with types.ErrPortConflict.
func (r *Reservations) Claim(port int, owner string) error {
	if port < 1 || port > 65535 {
		return types.Validationf("port %d out of range", port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.ports[port]; ok && holder != owner {
		return fmt.Errorf("host port %d reserved by %s: %w", port, holder, types.ErrPortConflict)
	}
	r.ports[port] = owner
	return nil
}

// Release drops a reservation if it is still held by owner
func (r *Reservations) Release(port int, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.ports[port]; ok && holder == owner {
		delete(r.ports, port)
	}
}

// ReleaseAll drops every reservation held by owner
func (r *Reservations) ReleaseAll(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for port, holder := range r.ports {
		if holder == owner {
			delete(r.ports, port)
		}
	}
}

// ClaimNext reserves the first port from start upward that is neither in
// used nor reserved by someone else, wrapping to MinDynamicPort after 65535.
func (r *Reservations) ClaimNext(start int, used map[int]bool, owner string) (int, error) {
	if start < MinDynamicPort || start > 65535 {
		start = MinDynamicPort
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	port := start
	for i := 0; i <= 65535-MinDynamicPort; i++ {
		holder, held := r.ports[port]
		if !used[port] && (!held || holder == owner) {
			r.ports[port] = owner
			return port, nil
		}
		port++
		if port > 65535 {
			port = MinDynamicPort
		}
	}
	return 0, fmt.Errorf("no free host port for %s: %w", owner, types.ErrPortConflict)
}

// HoldsName reports whether any reservation belongs to owner
func (r *Reservations) HoldsName(owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.ports {
		if o == owner {
			return true
		}
	}
	return false
}

// Reserved returns the reserved ports in ascending order
func (r *Reservations) Reserved() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, len(r.ports))
	for p := range r.ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
