// Package acl implements CIDR-based access control lists for the SIP
// security perimeter. A rule set is evaluated in priority order; the first
// matching rule's action wins, falling back to a default policy when no
// rule's CIDR contains the source address.
package acl

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
)

// Action is the outcome of a matched (or defaulted) ACL evaluation.
type Action int

const (
	// Deny rejects the source.
	Deny Action = iota
	// Allow admits the source.
	Allow
)

func (a Action) String() string {
	if a == Allow {
		return "allow"
	}
	return "deny"
}

// Rule is a single CIDR match with an action and an evaluation priority.
// Lower Priority values are evaluated first.
type Rule struct {
	Name     string
	CIDR     netip.Prefix
	Action   Action
	Priority int
}

// List is a named, priority-ordered set of rules with a default policy
// applied when no rule matches. Safe for concurrent use.
type List struct {
	mu            sync.RWMutex
	Name          string
	Description   string
	DefaultPolicy Action
	Enabled       bool
	rules         []Rule
}

// New creates an empty ACL with the given default policy. Disabled ACLs
// (Enabled=false) always resolve to the default policy regardless of rules.
func New(name string, defaultPolicy Action) *List {
	return &List{Name: name, DefaultPolicy: defaultPolicy, Enabled: true}
}

// AddRule inserts a rule and keeps the rule set sorted by ascending priority.
func (l *List) AddRule(r Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = append(l.rules, r)
	sort.SliceStable(l.rules, func(i, j int) bool {
		return l.rules[i].Priority < l.rules[j].Priority
	})
}

// RemoveRule deletes the named rule, if present.
func (l *List) RemoveRule(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.rules {
		if r.Name == name {
			l.rules = append(l.rules[:i], l.rules[i+1:]...)
			return
		}
	}
}

// Rules returns a snapshot of the current rule set, in evaluation order.
func (l *List) Rules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Allowed reports whether addr is permitted by this ACL: the first matching
// rule (lowest priority first) decides; an unmatched address, or a disabled
// ACL, falls back to DefaultPolicy.
func (l *List) Allowed(addr netip.Addr) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.Enabled {
		return l.DefaultPolicy == Allow
	}
	for _, r := range l.rules {
		if r.CIDR.Contains(addr) {
			return r.Action == Allow
		}
	}
	return l.DefaultPolicy == Allow
}

// Manager owns a named collection of ACLs. The B2BUA core consults it for
// each inbound INVITE; other SIP methods are not filtered through it.
type Manager struct {
	mu   sync.RWMutex
	acls map[string]*List
}

// NewManager creates an empty ACL manager.
func NewManager() *Manager {
	return &Manager{acls: make(map[string]*List)}
}

// Add registers an ACL under its own name, replacing any existing one.
func (m *Manager) Add(l *List) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acls[l.Name] = l
}

// Get returns the named ACL, or nil if it does not exist.
func (m *Manager) Get(name string) *List {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acls[name]
}

// Remove deletes the named ACL.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.acls, name)
}

// List returns the names of all registered ACLs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.acls))
	for name := range m.acls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allowed evaluates the named ACL against addr. An unknown ACL name is
// treated as deny-by-default, since a missing policy must never fail open.
func (m *Manager) Allowed(name string, addr netip.Addr) bool {
	l := m.Get(name)
	if l == nil {
		return false
	}
	return l.Allowed(addr)
}

// ParsePrefix accepts either a bare CIDR ("10.0.0.0/8") or a single IP
// address, normalizing the latter to a host prefix (/32 or /128).
func ParsePrefix(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("acl: %q is not a valid IP or CIDR: %w", s, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// DefaultACLs returns the built-in "rfc1918" and "localhost" ACLs, matching
// the conventional default perimeter: private and loopback ranges are
// allowed, everything else denied unless an operator-defined ACL says
// otherwise.
func DefaultACLs() []*List {
	rfc1918 := New("rfc1918", Deny)
	rfc1918.Description = "RFC 1918 private address ranges"
	mustAdd(rfc1918, "allow-10", "10.0.0.0/8", Allow, 10)
	mustAdd(rfc1918, "allow-172-16", "172.16.0.0/12", Allow, 20)
	mustAdd(rfc1918, "allow-192-168", "192.168.0.0/16", Allow, 30)

	localhost := New("localhost", Deny)
	localhost.Description = "loopback addresses"
	mustAdd(localhost, "allow-v4-loopback", "127.0.0.0/8", Allow, 10)
	mustAdd(localhost, "allow-v6-loopback", "::1/128", Allow, 20)

	return []*List{rfc1918, localhost}
}

func mustAdd(l *List, name, cidr string, action Action, priority int) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		panic(fmt.Sprintf("acl: invalid built-in cidr %q: %v", cidr, err))
	}
	l.AddRule(Rule{Name: name, CIDR: p, Action: action, Priority: priority})
}
