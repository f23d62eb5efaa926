// Package broadcast holds runtime task-setting overrides. A broadcast
// targets tasks by cycle point ("*" or an exact point) and by name glob,
// and overrides the task's script or injects environment variables at
// submission time. Broadcasts survive restarts via the store.
package broadcast

import (
	"path"
	"sort"
	"sync"

	"github.com/me/cyflow/pkg/cycling"
)

// Setting is one override bundle. A nil Script leaves the task's own
// script in place; Env entries are merged over the task's environment.
type Setting struct {
	Script string
	Env    map[string]string
}

func (s Setting) isZero() bool {
	return s.Script == "" && len(s.Env) == 0
}

type entry struct {
	pointPat string
	namePat  string
	setting  Setting
}

// Item is a flattened broadcast row suitable for persistence:
// Key is "script" or "env.<NAME>".
type Item struct {
	PointPattern string
	NamePattern  string
	Key          string
	Value        string
}

// Manager is the in-memory broadcast table. Safe for concurrent use,
// though the scheduler only touches it from the main loop.
type Manager struct {
	mu      sync.Mutex
	entries []entry
}

func NewManager() *Manager {
	return &Manager{}
}

// Set merges a broadcast for the given patterns. Setting the same values
// twice is a no-op; new values merge over an existing entry for the same
// pattern pair.
func (m *Manager) Set(pointPat, namePat string, s Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		e := &m.entries[i]
		if e.pointPat == pointPat && e.namePat == namePat {
			if s.Script != "" {
				e.setting.Script = s.Script
			}
			if len(s.Env) > 0 {
				if e.setting.Env == nil {
					e.setting.Env = make(map[string]string)
				}
				for k, v := range s.Env {
					e.setting.Env[k] = v
				}
			}
			return
		}
	}
	cp := Setting{Script: s.Script}
	if len(s.Env) > 0 {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	m.entries = append(m.entries, entry{pointPat: pointPat, namePat: namePat, setting: cp})
}

// Cancel removes the broadcast for the exact pattern pair. It reports
// whether anything was removed; cancelling an absent broadcast is not
// an error.
func (m *Manager) Cancel(pointPat, namePat string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].pointPat == pointPat && m.entries[i].namePat == namePat {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every broadcast.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// Resolve merges every broadcast matching the task into one Setting.
// Wildcard-point entries apply first, exact-point entries after, so the
// more specific broadcast wins; within a specificity class the most
// recently set entry wins.
func (m *Manager) Resolve(name string, point cycling.Point) Setting {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Setting
	apply := func(e *entry) {
		if e.setting.Script != "" {
			out.Script = e.setting.Script
		}
		for k, v := range e.setting.Env {
			if out.Env == nil {
				out.Env = make(map[string]string)
			}
			out.Env[k] = v
		}
	}
	ps := point.String()
	for i := range m.entries {
		e := &m.entries[i]
		if e.pointPat == "*" && matchName(e.namePat, name) {
			apply(e)
		}
	}
	for i := range m.entries {
		e := &m.entries[i]
		if e.pointPat == ps && matchName(e.namePat, name) {
			apply(e)
		}
	}
	return out
}

func matchName(pat, name string) bool {
	ok, err := path.Match(pat, name)
	return err == nil && ok
}

// Snapshot flattens the table into rows for the store.
func (m *Manager) Snapshot() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []Item
	for _, e := range m.entries {
		if e.setting.Script != "" {
			items = append(items, Item{e.pointPat, e.namePat, "script", e.setting.Script})
		}
		keys := make([]string, 0, len(e.setting.Env))
		for k := range e.setting.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, Item{e.pointPat, e.namePat, "env." + k, e.setting.Env[k]})
		}
	}
	return items
}

// Restore rebuilds the table from persisted rows, replacing any current
// contents.
func (m *Manager) Restore(items []Item) {
	m.Clear()
	for _, it := range items {
		s := Setting{}
		switch {
		case it.Key == "script":
			s.Script = it.Value
		case len(it.Key) > 4 && it.Key[:4] == "env.":
			s.Env = map[string]string{it.Key[4:]: it.Value}
		default:
			continue
		}
		m.Set(it.PointPattern, it.NamePattern, s)
	}
}
