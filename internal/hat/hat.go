// Package hat implements the Hat Registry (spec.md §4.2): named personas
// with glob subscriptions, a publication allow-list, and instructions.
package hat

import (
	"fmt"
	"strings"
)

// Hat is a value-typed persona description, created at config load and
// discarded at loop end (spec.md §3).
type Hat struct {
	Name          string
	Subscriptions []string
	Publications  []string
	Instructions  string

	compiledSubs []pattern
	pubSet       map[string]struct{}
	allowAny     bool // set only for the implicit hatless-config hat
}

// pattern is a compiled dot-segment glob, supporting "*" as a single
// segment wildcard (spec.md §3: "topic patterns with * wildcard matching
// dot-segments").
type pattern struct {
	raw      string
	segments []string
}

func compilePattern(p string) pattern {
	return pattern{raw: p, segments: strings.Split(p, ".")}
}

func (p pattern) matches(topic string) bool {
	segs := strings.Split(topic, ".")
	if len(segs) != len(p.segments) {
		return false
	}
	for i, s := range p.segments {
		if s == "*" {
			continue
		}
		if s != segs[i] {
			return false
		}
	}
	return true
}

// Compile validates and prepares a Hat for use: the name must be
// non-empty, subscription patterns must be dotted identifiers or "*"
// segments, and publication topics must be syntactically valid dotted
// identifiers. Instructions are not checked; an empty Instructions
// string compiles.
func (h *Hat) Compile() error {
	if h.Name == "" {
		return fmt.Errorf("hat: name must not be empty")
	}
	h.compiledSubs = make([]pattern, 0, len(h.Subscriptions))
	for _, s := range h.Subscriptions {
		if !isValidTopicPattern(s) {
			return fmt.Errorf("hat %q: invalid subscription pattern %q", h.Name, s)
		}
		h.compiledSubs = append(h.compiledSubs, compilePattern(s))
	}
	h.pubSet = make(map[string]struct{}, len(h.Publications))
	for _, p := range h.Publications {
		if !isValidTopic(p) {
			return fmt.Errorf("hat %q: invalid publication topic %q", h.Name, p)
		}
		h.pubSet[p] = struct{}{}
	}
	return nil
}

// Matches reports whether topic matches any of this hat's subscriptions.
func (h *Hat) Matches(topic string) bool {
	for _, p := range h.compiledSubs {
		if p.matches(topic) {
			return true
		}
	}
	return false
}

// MayPublish reports whether topic is in this hat's declared publication
// set (spec.md §3: "Every event a hat emits must be a topic in its
// declared publication set").
func (h *Hat) MayPublish(topic string) bool {
	if h.allowAny {
		return true
	}
	_, ok := h.pubSet[topic]
	return ok
}

func isValidTopic(topic string) bool {
	if topic == "" {
		return false
	}
	for _, seg := range strings.Split(topic, ".") {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}

func isValidTopicPattern(p string) bool {
	for _, seg := range strings.Split(p, ".") {
		if seg == "*" {
			continue
		}
		if !isValidTopic(seg) {
			return false
		}
	}
	return true
}

// Registry holds the static set of hats loaded once per loop (spec.md §4.2).
type Registry struct {
	byName map[string]*Hat
	order  []*Hat
}

// NewRegistry validates and compiles hats, rejecting duplicate names.
// A hatless configuration (empty hats slice) is legal: callers get an
// empty registry and are expected to fall back to the implicit hat
// described in spec.md §4.2.
func NewRegistry(hats []Hat) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Hat, len(hats))}
	for i := range hats {
		h := &hats[i]
		if _, exists := r.byName[h.Name]; exists {
			return nil, fmt.Errorf("hat registry: duplicate hat name %q", h.Name)
		}
		if err := h.Compile(); err != nil {
			return nil, err
		}
		r.byName[h.Name] = h
		r.order = append(r.order, h)
	}
	return r, nil
}

// ImplicitHat returns the single implicit hat used when no hats are
// configured: it subscribes to startTopic and may publish anything
// (spec.md §4.2: "A hatless configuration is legal").
func ImplicitHat(startTopic string) (*Hat, error) {
	h := &Hat{
		Name:          "default",
		Subscriptions: []string{startTopic},
		Publications:  nil, // allowAny, set below after Compile, lets it publish anything
		Instructions:  "Work toward the stated goal.",
	}
	if err := h.Compile(); err != nil {
		return nil, err
	}
	h.allowAny = true
	return h, nil
}

// Match returns all hats whose subscriptions match topic, in stable
// insertion order (spec.md §4.2).
func (r *Registry) Match(topic string) []*Hat {
	var out []*Hat
	for _, h := range r.order {
		if h.Matches(topic) {
			out = append(out, h)
		}
	}
	return out
}

// Lookup returns the hat with the given name, or nil.
func (r *Registry) Lookup(name string) *Hat {
	return r.byName[name]
}

// Len returns the number of registered hats.
func (r *Registry) Len() int { return len(r.order) }

// Order returns all registered hats in stable insertion order.
func (r *Registry) Order() []*Hat { return r.order }
