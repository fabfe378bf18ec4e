// Package session keeps the username → origin bindings of the relay.
//
// Entries live for the lifetime of the process. A name, once taken, can only
// be reused by a connection coming from the same IP address.
package session

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"
)

// ErrUsernameTaken is returned by Register when the name is bound to a
// different origin.
var ErrUsernameTaken = errors.New("session: username already in use")

// Outcome is the result of a Register call.
type Outcome int

const (
	// Rejected means the name belongs to someone at another address.
	Rejected Outcome = iota
	// Accepted means the name was free and is now bound to the caller.
	Accepted
	// Rejoined means the name was already bound to the caller's IP.
	Rejoined
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejoined:
		return "rejoined"
	}
	return "rejected"
}

// Entry is a registered username.
type Entry struct {
	Username string    `json:"username"`
	Origin   string    `json:"origin"` // IP address, no port
	Since    time.Time `json:"since"`
}

// Registry binds usernames to the address they first joined from.
// A single mutex guards the whole map so the lookup and the insert in
// Register form one critical section.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Register claims username for origin.
//
// A free name is bound and Accepted. A name bound to the same IP is Rejoined
// and left untouched. Anything else is Rejected with ErrUsernameTaken.
func (r *Registry) Register(username string, origin net.Addr) (Outcome, error) {
	ip := OriginIP(origin)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[username]; ok {
		if e.Origin == ip {
			return Rejoined, nil
		}
		return Rejected, ErrUsernameTaken
	}
	r.entries[username] = &Entry{
		Username: username,
		Origin:   ip,
		Since:    r.now().UTC(),
	}
	return Accepted, nil
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a copy of every entry, ordered by username.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// OriginIP returns the IP part of addr in canonical form. Addresses without
// an IP are returned as their string form.
func OriginIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	case *net.IPAddr:
		return a.IP.String()
	}
	s := addr.String()
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		host = s
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}
