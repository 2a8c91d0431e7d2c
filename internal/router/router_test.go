package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func req(method, path string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	return r
}

func TestExactBeatsWildcard(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "exact", Path: "/api/templates", ServiceName: "ai-config-service"})
	rt.AddRoute(RouteConfig{ID: "wild", Path: "/api/templates/*", ServiceName: "ai-config-service"})

	m := rt.Match(req(http.MethodGet, "/api/templates"))
	if m == nil || m.Route.ID != "exact" {
		t.Fatalf("Match(/api/templates) = %+v, want exact route", m)
	}

	m = rt.Match(req(http.MethodGet, "/api/templates/abc"))
	if m == nil || m.Route.ID != "wild" {
		t.Fatalf("Match(/api/templates/abc) = %+v, want wildcard route", m)
	}
}

func TestExactAlwaysWinsOverWildcardEvenWhenRegisteredFirst(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "wild", Path: "/a/*", ServiceName: "svc"})
	rt.AddRoute(RouteConfig{ID: "exact", Path: "/a/b", ServiceName: "svc"})

	m := rt.Match(req(http.MethodGet, "/a/b"))
	if m == nil || m.Route.ID != "exact" {
		t.Fatalf("exact route must win regardless of registration order, got %+v", m)
	}
}

func TestParamRouteExtractsPathParams(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "byid", Path: "/users/:id", ServiceName: "users"})

	m := rt.Match(req(http.MethodGet, "/users/42"))
	if m == nil || m.Route.ID != "byid" {
		t.Fatalf("Match(/users/42) = %+v", m)
	}
	if m.PathParams["id"] != "42" {
		t.Errorf("PathParams[id] = %q, want 42", m.PathParams["id"])
	}
}

func TestMoreSpecificWildcardWins(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "broad", Path: "/a/*", ServiceName: "svc-broad"})
	rt.AddRoute(RouteConfig{ID: "narrow", Path: "/a/b/*", ServiceName: "svc-narrow"})

	m := rt.Match(req(http.MethodGet, "/a/b/c"))
	if m == nil || m.Route.ID != "narrow" {
		t.Fatalf("Match(/a/b/c) = %+v, want the more specific /a/b/* route", m)
	}
}

func TestDuplicateWildcardPathOverwrites(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "first", Path: "/x/*", ServiceName: "svc-1"})
	rt.AddRoute(RouteConfig{ID: "second", Path: "/x/*", ServiceName: "svc-2"})

	// Same pattern overwrites the path slot; only "second" remains registered.
	if got := len(rt.Routes()); got != 1 {
		t.Fatalf("Routes() len = %d, want 1 (duplicate path overwrites)", got)
	}
	m := rt.Match(req(http.MethodGet, "/x/y"))
	if m == nil || m.Route.ID != "second" {
		t.Fatalf("expected duplicate registration to overwrite, got %+v", m)
	}
}

func TestParamAndWildcardTieBreakByRegistrationOrder(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "wild", Path: "/a/*", ServiceName: "svc-wild"})
	rt.AddRoute(RouteConfig{ID: "param", Path: "/a/:id", ServiceName: "svc-param"})

	m := rt.Match(req(http.MethodGet, "/a/123"))
	if m == nil || m.Route.ID != "wild" {
		t.Fatalf("Match(/a/123) = %+v, want the first-registered /a/* route on a specificity tie", m)
	}
}

func TestNoMatchReturnsNil(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "only", Path: "/known", ServiceName: "svc"})

	if m := rt.Match(req(http.MethodGet, "/unknown")); m != nil {
		t.Fatalf("Match(/unknown) = %+v, want nil", m)
	}
}

func TestRemoveRoutePurgesFromLookup(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "exact", Path: "/a", ServiceName: "svc"})
	rt.AddRoute(RouteConfig{ID: "param", Path: "/b/:id", ServiceName: "svc"})
	rt.AddRoute(RouteConfig{ID: "wild", Path: "/c/*", ServiceName: "svc"})

	for _, id := range []string{"exact", "param", "wild"} {
		if !rt.RemoveRoute(id) {
			t.Fatalf("RemoveRoute(%s) = false", id)
		}
	}

	for _, p := range []string{"/a", "/b/1", "/c/d"} {
		if m := rt.Match(req(http.MethodGet, p)); m != nil {
			t.Fatalf("Match(%s) after removal = %+v, want nil", p, m)
		}
	}
	if got := len(rt.Routes()); got != 0 {
		t.Fatalf("Routes() len after removal = %d, want 0", got)
	}
}

func TestRemoveRouteUnknownIDReturnsFalse(t *testing.T) {
	rt := New()
	if rt.RemoveRoute("ghost") {
		t.Fatal("RemoveRoute(ghost) = true, want false")
	}
}

func TestMetricsTrackHitsAndMisses(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "a", Path: "/a", ServiceName: "svc"})

	rt.Match(req(http.MethodGet, "/a"))
	rt.Match(req(http.MethodGet, "/a"))
	rt.Match(req(http.MethodGet, "/missing"))

	m := rt.Metrics()
	if m.Hits["a"] != 2 {
		t.Errorf("Hits[a] = %d, want 2", m.Hits["a"])
	}
	if m.Misses != 1 {
		t.Errorf("Misses = %d, want 1", m.Misses)
	}

	rt.ClearMetrics()
	m = rt.Metrics()
	if len(m.Hits) != 0 || m.Misses != 0 {
		t.Errorf("Metrics after ClearMetrics = %+v, want zeroed", m)
	}
}

func TestRoutesPreservesRegistrationOrder(t *testing.T) {
	rt := New()
	rt.AddRoute(RouteConfig{ID: "first", Path: "/1", ServiceName: "svc"})
	rt.AddRoute(RouteConfig{ID: "second", Path: "/2", ServiceName: "svc"})
	rt.AddRoute(RouteConfig{ID: "third", Path: "/3", ServiceName: "svc"})

	routes := rt.Routes()
	ids := make([]string, len(routes))
	for i, r := range routes {
		ids[i] = r.ID
	}
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("Routes() order = %v, want %v", ids, want)
		}
	}
}
