// Package netboxtest serves a small in-memory NetBox API for tests
package netboxtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Object is one NetBox API object
type Object map[string]any

// Server answers the NetBox endpoints the service reads
type Server struct {
	*httptest.Server

	mu sync.Mutex

	Devices    []Object
	Interfaces []Object
	// IPs maps interface ID to its address objects
	IPs     map[int64][]Object
	Users   []Object
	Regions []Object
	Sites   []Object

	// Fail, when non-zero, is returned for every request
	Fail int

	Requests []string
}

// New starts a server that is closed with the test
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{IPs: map[int64][]Object{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddDevice registers a device with a platform slug and primary IPv4
func (s *Server) AddDevice(id int64, name, platform, primaryIP string, siteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := Object{"id": id, "name": name}
	if platform != "" {
		dev["platform"] = Object{"slug": platform, "name": platform}
	} else {
		dev["platform"] = nil
	}
	if primaryIP != "" {
		dev["primary_ip4"] = Object{"address": primaryIP}
	}
	if siteID > 0 {
		dev["site"] = Object{"id": siteID, "name": "site-" + strconv.FormatInt(siteID, 10)}
	}
	s.Devices = append(s.Devices, dev)
}

// AddInterface registers an interface on the named device
func (s *Server) AddInterface(deviceID int64, deviceName string, iface Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iface["device"] = Object{"id": deviceID, "name": deviceName}
	s.Interfaces = append(s.Interfaces, iface)
}

// AddIP assigns an address in CIDR form to an interface
func (s *Server) AddIP(interfaceID int64, cidr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IPs[interfaceID] = append(s.IPs[interfaceID], Object{"address": cidr})
}

// RequestCount returns how many requests hit path
func (s *Server) RequestCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.Requests {
		if r == path {
			n++
		}
	}
	return n
}

// TotalRequests returns how many requests reached the server
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	if s.Fail != 0 {
		w.WriteHeader(s.Fail)
		_, _ = w.Write([]byte(`{"detail":"failure"}`))
		return
	}

	q := r.URL.Query()
	switch r.URL.Path {
	case "/api/status/":
		writeJSON(w, Object{"netbox-version": "4.1.0"})
	case "/api/dcim/devices/":
		writeResults(w, filter(s.Devices, func(o Object) bool {
			if name := q.Get("name"); name != "" && o["name"] != name {
				return false
			}
			if site := q.Get("site_id"); site != "" && !idIn(nestedID(o, "site"), site) {
				return false
			}
			if sites := q.Get("site_id__in"); sites != "" && !idIn(nestedID(o, "site"), sites) {
				return false
			}
			return true
		}))
	case "/api/dcim/interfaces/":
		writeResults(w, filter(s.Interfaces, func(o Object) bool {
			if id := q.Get("device_id"); id != "" && !idIn(nestedID(o, "device"), id) {
				return false
			}
			if dev := q.Get("device"); dev != "" {
				d, _ := o["device"].(Object)
				if d["name"] != dev {
					return false
				}
			}
			if name := q.Get("name"); name != "" && o["name"] != name {
				return false
			}
			return true
		}))
	case "/api/ipam/ip-addresses/":
		id, _ := strconv.ParseInt(q.Get("interface_id"), 10, 64)
		writeResults(w, s.IPs[id])
	case "/api/users/users/":
		writeResults(w, s.Users)
	case "/api/dcim/regions/":
		writeResults(w, filter(s.Regions, func(o Object) bool {
			if parent := q.Get("parent_id"); parent != "" {
				return idIn(nestedID(o, "parent"), parent)
			}
			return true
		}))
	case "/api/dcim/sites/":
		writeResults(w, filter(s.Sites, func(o Object) bool {
			if region := q.Get("region_id"); region != "" {
				return idIn(nestedID(o, "region"), region)
			}
			return true
		}))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}
}

func filter(objs []Object, keep func(Object) bool) []Object {
	out := []Object{}
	for _, o := range objs {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func nestedID(o Object, key string) int64 {
	nested, ok := o[key].(Object)
	if !ok {
		return 0
	}
	switch v := nested["id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func idIn(id int64, list string) bool {
	if id == 0 {
		return false
	}
	want := strconv.FormatInt(id, 10)
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}

func writeResults(w http.ResponseWriter, objs []Object) {
	if objs == nil {
		objs = []Object{}
	}
	writeJSON(w, Object{"count": len(objs), "results": objs})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
