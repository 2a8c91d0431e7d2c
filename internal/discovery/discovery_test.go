package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/registry"
)

func TestFetchDescriptorsBareArrayShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"users","id":"u1","host":"10.0.0.1","port":8081}]`))
	}))
	defer srv.Close()

	got, err := fetchDescriptors(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatalf("fetchDescriptors: %v", err)
	}
	if len(got) != 1 || got[0].ServiceName != "users" || got[0].Port != 8081 {
		t.Fatalf("got %+v", got)
	}
}

func TestFetchDescriptorsServicesShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"services":[{"name":"orders","id":"o1","host":"10.0.0.2","port":9000}]}`))
	}))
	defer srv.Close()

	got, err := fetchDescriptors(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatalf("fetchDescriptors: %v", err)
	}
	if len(got) != 1 || got[0].ServiceName != "orders" {
		t.Fatalf("got %+v", got)
	}
}

func TestFetchDescriptorsDataServicesShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"services":[{"name":"users","id":"u1","host":"10.0.0.1","port":8081},{"name":"orders","id":"o1","host":"10.0.0.2","port":9000}]}}`))
	}))
	defer srv.Close()

	got, err := fetchDescriptors(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatalf("fetchDescriptors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d descriptors, want 2: %+v", len(got), got)
	}
}

func TestResolvePortChain(t *testing.T) {
	registryMap := map[string]int{"fallback-svc": 7000}

	cases := []struct {
		name string
		d    descriptor
		want int
		ok   bool
	}{
		{"own port", descriptor{ServiceName: "a", Port: 8080, HasPort: true}, 8080, true},
		{"metadata port", descriptor{ServiceName: "a", Metadata: map[string]string{"port": "8081"}}, 8081, true},
		{"health endpoint port", descriptor{ServiceName: "a", HealthEndpoint: "http://10.0.0.1:8082/health"}, 8082, true},
		{"registry fallback", descriptor{ServiceName: "fallback-svc"}, 7000, true},
		{"unresolvable", descriptor{ServiceName: "ghost"}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := resolvePort(tc.d, registryMap)
			if ok != tc.ok || got != tc.want {
				t.Errorf("resolvePort(%+v) = (%d, %v), want (%d, %v)", tc.d, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestDescriptorMissingNameIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"u1","host":"10.0.0.1","port":8081},{"name":"users","id":"u2","host":"10.0.0.1","port":8082}]`))
	}))
	defer srv.Close()

	got, err := fetchDescriptors(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatalf("fetchDescriptors: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u2" {
		t.Fatalf("expected only the named descriptor to survive, got %+v", got)
	}
}

func TestDescriptorUnresolvablePortIsRejected(t *testing.T) {
	d := descriptor{ServiceName: "ghost", ID: "g1"}
	_, ok := d.toInstance(map[string]int{})
	if ok {
		t.Fatal("expected a descriptor with no resolvable port to be rejected")
	}
}

func TestDescriptorDefaultsHostToLocalhost(t *testing.T) {
	d := descriptor{ServiceName: "users", ID: "u1", Port: 8081, HasPort: true}
	inst, ok := d.toInstance(map[string]int{})
	if !ok {
		t.Fatal("expected resolvable instance")
	}
	if inst.Host != "localhost" {
		t.Errorf("expected host defaulted to localhost, got %q", inst.Host)
	}
}

func TestProbeDynamicPurgesStaticBeforePopulating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"users","id":"u1","host":"10.0.0.1","port":8081}]`))
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Register(&registry.Instance{ID: "users-static", ServiceName: "users", Host: "localhost", Port: 1, Healthy: true, Discovered: false})

	d := New(config.DiscoveryConfig{ControlPlaneURL: srv.URL}, reg, srv.Client())
	d.probeDynamic(context.Background())

	all := reg.AllServices()
	if len(all["users"]) != 1 || !all["users"][0].Discovered {
		t.Fatalf("expected only the dynamic instance to remain, got %+v", all["users"])
	}
	if d.Mode() != ModeDynamic {
		t.Fatalf("Mode() = %v, want dynamic", d.Mode())
	}
}

func TestProbeFallsBackToStaticOnUnreachableControlPlane(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Instance{ID: "users-dyn", ServiceName: "users", Host: "10.0.0.1", Port: 8081, Healthy: true, Discovered: true})

	cfg := config.DiscoveryConfig{
		ControlPlaneURL: "http://127.0.0.1:1", // nothing listening
		StaticServices:  []string{"users"},
		PortRegistry:    map[string]int{"users": 9999},
	}
	d := New(cfg, reg, &http.Client{Timeout: 200 * time.Millisecond})
	d.probeDynamic(context.Background())

	all := reg.AllServices()
	if len(all["users"]) != 1 || all["users"][0].Discovered {
		t.Fatalf("expected only the static instance to remain, got %+v", all["users"])
	}
	if d.Mode() != ModeStatic {
		t.Fatalf("Mode() = %v, want static", d.Mode())
	}
}

func TestCheckAllUpdatesHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	reg := registry.New()
	reg.Register(parseTestInstance(t, "a", healthy.URL))
	reg.Register(parseTestInstance(t, "b", unhealthy.URL))

	d := New(config.DiscoveryConfig{}, reg, healthy.Client())
	d.checkAll(context.Background())

	all := reg.AllServices()
	byID := map[string]*registry.Instance{}
	for _, inst := range all["svc"] {
		byID[inst.ID] = inst
	}
	if !byID["a"].Healthy {
		t.Error("instance a should be healthy")
	}
	if byID["b"].Healthy {
		t.Error("instance b should be unhealthy")
	}
}

func parseTestInstance(t *testing.T, id, rawURL string) *registry.Instance {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return &registry.Instance{
		ID: id, ServiceName: "svc", Host: u.Hostname(), Port: port,
		Protocol: "http", HealthEndpoint: "/", Healthy: false, Discovered: true,
	}
}

func TestJitterStaysWithinTenPercent(t *testing.T) {
	base := 60 * time.Second
	for i := 0; i < 200; i++ {
		got := jitter(base)
		min := base - base/10 - time.Second
		max := base + base/10 + time.Second
		if got < min || got > max {
			t.Fatalf("jitter(%v) = %v, outside +/-10%% band", base, got)
		}
	}
}
