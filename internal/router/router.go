// Package router matches topic names against MQTT subscription filters.
package router

import (
	"sort"
	"strings"
	"sync"
)

// Router holds a set of subscription filters. Filters may use the +
// (single level) and # (trailing multi level) wildcards.
type Router struct {
	topics []topic
	sorted bool
	mu     sync.RWMutex
}

func New(filters ...string) *Router {
	r := &Router{}
	r.Set(filters...)
	return r
}

// Set replaces all filters.
func (r *Router) Set(filters ...string) {
	topics := make([]topic, 0, len(filters))
	for _, f := range filters {
		topics = append(topics, topic{path: strings.Split(f, "/")})
	}
	r.mu.Lock()
	r.topics = topics
	r.sorted = false
	r.mu.Unlock()
}

// Filters returns the filters in path order.
func (r *Router) Filters() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sorted {
		sort.Sort(byPath(r.topics))
		r.sorted = true
	}
	result := make([]string, len(r.topics))
	for i, t := range r.topics {
		result[i] = strings.Join(t.path, "/")
	}
	return result
}

// Match reports whether topic matches any filter.
func (r *Router) Match(topic string) bool {
	path := strings.Split(topic, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.topics {
		if matchPath(t.path, path) {
			return true
		}
	}
	return false
}

func matchPath(filter, path []string) bool {
	// wildcards at the first level do not match $SYS style topics
	if len(path) > 0 && strings.HasPrefix(path[0], "$") && len(filter) > 0 &&
		(filter[0] == "#" || filter[0] == "+") {
		return false
	}
	for i, f := range filter {
		if f == "#" {
			return i == len(filter)-1
		}
		if i >= len(path) {
			return false
		}
		if f != "+" && f != path[i] {
			return false
		}
	}
	return len(filter) == len(path)
}

type topic struct {
	path []string
}

type byPath []topic

func (p byPath) Len() int      { return len(p) }
func (p byPath) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p byPath) Less(i, j int) bool {
	ap := p[i].path
	bp := p[j].path
	for i := range ap {
		if len(bp) < (i + 1) {
			return false
		}
		if ap[i] < bp[i] {
			return true
		} else if ap[i] > bp[i] {
			return false
		}
	}
	return true
}
