package websocket

import "sync"

// Registry tracks live sessions grouped by upgrade path, so a handler
// can broadcast a message to every client currently subscribed under a
// given path (spec.md §4.7 "broadcast registry"). Unsubscribe removes a
// session explicitly; the Registry does not itself observe sessions
// closing, so a closed session still present is purged lazily on the
// next Subscribe or Broadcast call for that path.
type Registry struct {
	mu    sync.Mutex
	paths map[string]map[string]*Session // path -> Sec-WebSocket-Key -> session
}

// NewRegistry creates an empty broadcast registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string]map[string]*Session)}
}

// Subscribe registers s under path, purging any dead entries found
// along the way.
func (r *Registry) Subscribe(path string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.paths[path]
	if !ok {
		subs = make(map[string]*Session)
		r.paths[path] = subs
	}
	r.purgeLocked(subs)
	subs[s.Key()] = s
}

// Unsubscribe removes s from path, if present.
func (r *Registry) Unsubscribe(path string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.paths[path]; ok {
		delete(subs, s.Key())
		if len(subs) == 0 {
			delete(r.paths, path)
		}
	}
}

// Broadcast sends payload as opcode to every live subscriber of path,
// excluding any subscriber key found in exclude.
func (r *Registry) Broadcast(path string, opcode Opcode, payload []byte, exclude ...string) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	r.mu.Lock()
	subs, ok := r.paths[path]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.purgeLocked(subs)
	targets := make([]*Session, 0, len(subs))
	for key, s := range subs {
		if excluded[key] {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.Send(opcode, payload)
	}
}

// purgeLocked removes sessions that have already closed. Callers must
// hold r.mu.
func (r *Registry) purgeLocked(subs map[string]*Session) {
	for key, s := range subs {
		if s.Closed() {
			delete(subs, key)
		}
	}
}
