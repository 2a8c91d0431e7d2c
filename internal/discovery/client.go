package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/edgeway/gateway/internal/registry"
)

// descriptor is one service instance as reported by the control plane,
// independent of which of the three accepted JSON shapes it came from.
// Host and Port are left zero-valued when the descriptor omits them so
// the port-resolution chain in resolvePort can tell "absent" from "0".
type descriptor struct {
	ID             string
	ServiceName    string
	Host           string
	Port           int
	HasPort        bool
	Status         string
	HealthEndpoint string
	Metadata       map[string]string
}

// fetchDescriptors fetches the current service list from the discovery
// control plane. The response is accepted in exactly three shapes: a raw
// array of descriptors, {"services": [...]}, or {"data": {"services":
// [...]}}.
func fetchDescriptors(ctx context.Context, hc *http.Client, controlPlaneURL string) ([]descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controlPlaneURL+"/api/discovery/services", nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: control plane returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("discovery: control plane response is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	switch {
	case root.IsArray():
		return parseDescriptorArray(root), nil
	case root.Get("services").IsArray():
		return parseDescriptorArray(root.Get("services")), nil
	case root.Get("data.services").IsArray():
		return parseDescriptorArray(root.Get("data.services")), nil
	default:
		return nil, fmt.Errorf("discovery: unrecognized control plane response shape")
	}
}

func parseDescriptorArray(arr gjson.Result) []descriptor {
	var out []descriptor
	arr.ForEach(func(_, inst gjson.Result) bool {
		d := descriptor{
			ID:             inst.Get("id").String(),
			ServiceName:    inst.Get("name").String(),
			Host:           inst.Get("host").String(),
			Status:         inst.Get("status").String(),
			HealthEndpoint: inst.Get("healthEndpoint").String(),
		}
		if p := inst.Get("port"); p.Exists() {
			d.Port = int(p.Int())
			d.HasPort = true
		}
		if meta := inst.Get("metadata"); meta.IsObject() {
			d.Metadata = map[string]string{}
			meta.ForEach(func(k, v gjson.Result) bool {
				d.Metadata[k.String()] = v.String()
				return true
			})
		}
		if d.ServiceName == "" {
			return true // a descriptor with no name cannot be addressed
		}
		out = append(out, d)
		return true
	})
	return out
}

// resolvePort tries the descriptor's own port field, then metadata.port,
// then a port parsed out of healthEndpoint, then the port-name registry
// as a last resort. Returns ok=false when none resolves, in which case
// the descriptor is rejected.
func resolvePort(d descriptor, portRegistry map[string]int) (int, bool) {
	if d.HasPort && d.Port > 0 {
		return d.Port, true
	}
	if d.Metadata != nil {
		if raw, ok := d.Metadata["port"]; ok {
			if p, err := strconv.Atoi(raw); err == nil && p > 0 {
				return p, true
			}
		}
	}
	if d.HealthEndpoint != "" {
		if u, err := url.Parse(d.HealthEndpoint); err == nil && u.Port() != "" {
			if p, err := strconv.Atoi(u.Port()); err == nil && p > 0 {
				return p, true
			}
		}
	}
	if p, ok := portRegistry[d.ServiceName]; ok && p > 0 {
		return p, true
	}
	return 0, false
}

// toInstance materializes d as a dynamic registry instance, resolving its
// port via portRegistry and defaulting its host to localhost. ok is false
// when no port could be resolved, in which case the descriptor must be
// rejected (the rest of the batch still registers).
func (d descriptor) toInstance(portRegistry map[string]int) (*registry.Instance, bool) {
	port, ok := resolvePort(d, portRegistry)
	if !ok {
		return nil, false
	}
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	health := d.HealthEndpoint
	if health == "" {
		health = "/health"
	}
	id := d.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", d.ServiceName, host, port)
	}
	healthy := d.Status == "" || d.Status == "healthy"
	return &registry.Instance{
		ID:             id,
		ServiceName:    d.ServiceName,
		Host:           host,
		Port:           port,
		Protocol:       "http",
		HealthEndpoint: health,
		Metadata:       d.Metadata,
		Healthy:        healthy,
		Discovered:     true,
		RegisteredAt:   time.Now(),
	}, true
}
