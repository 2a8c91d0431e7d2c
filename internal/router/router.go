// Package router implements the dynamic route table: an exact-path map
// for literal routes, plus a single specificity-sorted list for every
// patterned route (":name"-holed and trailing-"*" alike), linearly
// scanned in order. Exact matches always win over patterned matches;
// among patterned matches, greater specificity wins, and equal
// specificity falls back to registration order — a single ordered list
// is what makes that tiebreak observable across ":name" and "*" routes
// alike, rather than one kind structurally always beating the other.
package router

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// Route is an immutable-after-registration route entry.
type Route struct {
	ID            string
	Pattern       string
	ServiceName   string
	ServiceTags   []string
	RewritePath   string
	StripPrefix   bool
	Timeout       time.Duration
	Retries       int
	AuthRequired  bool
	StaticHeaders map[string]string

	compiled  *compiledPattern // nil for literal (no ':' or '*') patterns
	configIdx int              // insertion order, used as the specificity tiebreak
}

// Match is the result of a successful route lookup.
type Match struct {
	Route      *Route
	PathParams map[string]string
}

// RouteConfig is the input to AddRoute, decoupled from config.RouteConfig
// so the router package has no dependency on the config package.
type RouteConfig struct {
	ID            string
	Path          string
	ServiceName   string
	ServiceTags   []string
	RewritePath   string
	StripPrefix   bool
	Timeout       time.Duration
	Retries       int
	AuthRequired  bool
	StaticHeaders map[string]string
}

// Metrics is the router's own match-count telemetry, distinct from the
// routing metrics owned by internal/metrics (requests/successes/failures
// are the forward engine's concern, not the router's).
type Metrics struct {
	Hits   map[string]int64 `json:"hits"`   // routeID -> match count
	Misses int64            `json:"misses"`
}

// Router is the dynamic route table.
type Router struct {
	mu sync.RWMutex

	exact     map[string]*Route // literal patterns, keyed by the pattern itself
	patterned []*Route          // ":name"- and "*"-holed patterns, specificity-sorted
	byID      map[string]*Route

	nextIdx int
	hits    map[string]int64
	misses  int64
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		exact: make(map[string]*Route),
		byID:  make(map[string]*Route),
		hits:  make(map[string]int64),
	}
}

// AddRoute inserts or overwrites a route. Duplicate paths overwrite; this
// operation is idempotent.
func (rt *Router) AddRoute(cfg RouteConfig) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	route := &Route{
		ID:            cfg.ID,
		Pattern:       cfg.Path,
		ServiceName:   cfg.ServiceName,
		ServiceTags:   cfg.ServiceTags,
		RewritePath:   cfg.RewritePath,
		StripPrefix:   cfg.StripPrefix,
		Timeout:       cfg.Timeout,
		Retries:       cfg.Retries,
		AuthRequired:  cfg.AuthRequired,
		StaticHeaders: cfg.StaticHeaders,
		configIdx:     rt.nextIdx,
	}
	rt.nextIdx++

	if old, ok := rt.byID[cfg.ID]; ok {
		rt.removeFromTiers(old)
	}
	// A second route registered under the same path (different ID)
	// also overwrites the path slot, per spec.
	for id, other := range rt.byID {
		if id != cfg.ID && other.Pattern == cfg.Path {
			rt.removeFromTiers(other)
			delete(rt.byID, id)
			delete(rt.hits, id)
		}
	}
	rt.byID[cfg.ID] = route

	if isLiteral(cfg.Path) {
		rt.exact[cfg.Path] = route
		return
	}

	route.compiled = compilePattern(cfg.Path)
	rt.patterned = rt.insertPatterned(route)
}

// insertPatterned returns a new slice (copy-on-write) containing route,
// sorted by descending specificity with a stable tiebreak on insertion
// order — callers that already hold a reference to the previous slice
// keep observing a fully-formed list. ":name"-holed and "*"-holed routes
// share this one list so the tiebreak is comparable across both kinds.
func (rt *Router) insertPatterned(route *Route) []*Route {
	next := make([]*Route, len(rt.patterned), len(rt.patterned)+1)
	copy(next, rt.patterned)
	next = append(next, route)
	sort.SliceStable(next, func(i, j int) bool {
		si, sj := next[i].compiled.specificity, next[j].compiled.specificity
		if si != sj {
			return si > sj
		}
		return next[i].configIdx < next[j].configIdx
	})
	return next
}

// removeFromTiers removes old from whichever tier it lives in. Caller
// holds rt.mu.
func (rt *Router) removeFromTiers(old *Route) {
	if old.compiled == nil {
		delete(rt.exact, old.Pattern)
		return
	}
	next := make([]*Route, 0, len(rt.patterned))
	for _, r := range rt.patterned {
		if r.ID != old.ID {
			next = append(next, r)
		}
	}
	rt.patterned = next
}

// RemoveRoute purges a route by ID, immediately, from both the map and
// the ordered list. Returns false if the ID was unknown.
func (rt *Router) RemoveRoute(id string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	old, ok := rt.byID[id]
	if !ok {
		return false
	}
	rt.removeFromTiers(old)
	delete(rt.byID, id)
	delete(rt.hits, id)
	return true
}

// Match resolves an incoming request to a route. Empty path and a lone
// "/" return no match unless a route was explicitly registered there.
func (rt *Router) Match(r *http.Request) *Match {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if route, ok := rt.exact[r.URL.Path]; ok {
		rt.recordHit(route.ID)
		return &Match{Route: route, PathParams: map[string]string{}}
	}

	for _, route := range rt.patterned {
		if loc := route.compiled.regex.FindStringSubmatch(r.URL.Path); loc != nil {
			params := make(map[string]string, len(route.compiled.paramNames))
			for i, name := range route.compiled.paramNames {
				if i+1 < len(loc) {
					params[name] = loc[i+1]
				}
			}
			rt.recordHit(route.ID)
			return &Match{Route: route, PathParams: params}
		}
	}

	rt.misses++
	return nil
}

func (rt *Router) recordHit(id string) {
	rt.hits[id]++
}

// Routes returns a snapshot of every registered route.
func (rt *Router) Routes() []*Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]*Route, 0, len(rt.byID))
	for _, r := range rt.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].configIdx < out[j].configIdx })
	return out
}

// GetRoute returns a route by ID, or nil.
func (rt *Router) GetRoute(id string) *Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.byID[id]
}

// Metrics returns a snapshot of match-count telemetry.
func (rt *Router) Metrics() Metrics {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	hits := make(map[string]int64, len(rt.hits))
	for k, v := range rt.hits {
		hits[k] = v
	}
	return Metrics{Hits: hits, Misses: rt.misses}
}

// ClearMetrics resets match-count telemetry.
func (rt *Router) ClearMetrics() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.hits = make(map[string]int64)
	rt.misses = 0
}
