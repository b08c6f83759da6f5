package server

import (
	"sort"
	"strings"

	"github.com/momentics/reqpipe/message"
	"github.com/momentics/reqpipe/writer"
)

// Context bundles the request, the response being built, and the writer
// that sends it, the one value a Handler needs (spec.md §4.2
// "dispatcher" owning a Request/Response pair per connection work
// unit).
type Context struct {
	Req    *message.Request
	Resp   *message.Response
	Writer *writer.Writer
}

// Handler answers one request. It must eventually call a Writer send
// method, exactly once, before returning (or asynchronously afterward
// for a streaming handler that retains ctx).
type Handler func(ctx *Context)

// SinkFactory builds the push-style callback that receives a request's
// body bytes incrementally, given the now-fully-parsed request headers
// (spec.md §4.2 "a map path -> payload-sink factory"). A POST/PUT route
// registered without one gets its body read and discarded, with a
// warning logged for each such request.
type SinkFactory func(req *message.Request) message.PayloadSink

// routeEntry is one registered (prefix, handler, sink factory) tuple for
// a method.
type routeEntry struct {
	prefix      string
	handler     Handler
	sinkFactory SinkFactory
}

// router holds per-method prefix tables and resolves the longest
// matching prefix for a resource (spec.md §4.2 "path-prefix dispatcher":
// a registered prefix matches a resource if the resource equals the
// prefix or the prefix is immediately followed by '/' in the resource).
type router struct {
	methods map[string][]routeEntry
}

func newRouter() *router {
	return &router{methods: make(map[string][]routeEntry)}
}

// add registers handler (and optional sinkFactory) under method for the
// given prefix, keeping each method's entries sorted longest-prefix-
// first so match stops at the first hit.
func (r *router) add(method, prefix string, handler Handler, sinkFactory SinkFactory) {
	entries := append(r.methods[method], routeEntry{prefix: prefix, handler: handler, sinkFactory: sinkFactory})
	sort.Slice(entries, func(i, j int) bool { return len(entries[i].prefix) > len(entries[j].prefix) })
	r.methods[method] = entries
}

// match returns the handler registered for method whose prefix matches
// resource most specifically, or nil if none matches.
func (r *router) match(method, resource string) Handler {
	if e := r.matchEntry(method, resource); e != nil {
		return e.handler
	}
	return nil
}

// matchSinkFactory returns the sink factory registered alongside the
// handler matching method/resource, or nil.
func (r *router) matchSinkFactory(method, resource string) SinkFactory {
	if e := r.matchEntry(method, resource); e != nil {
		return e.sinkFactory
	}
	return nil
}

func (r *router) matchEntry(method, resource string) *routeEntry {
	for i, e := range r.methods[method] {
		if prefixMatches(e.prefix, resource) {
			return &r.methods[method][i]
		}
	}
	return nil
}

func prefixMatches(prefix, resource string) bool {
	if !strings.HasPrefix(resource, prefix) {
		return false
	}
	if len(resource) == len(prefix) {
		return true
	}
	return resource[len(prefix)] == '/'
}
