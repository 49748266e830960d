package mikrotik

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientTestMAC = "AA:BB:CC:DD:EE:30"

// fakeRouterOS emulates the RouterOS v7 REST endpoints the client
// touches: identity, resource, and the hotspot host/user/active tables.
type fakeRouterOS struct {
	mu     sync.Mutex
	nextID int
	hosts  map[string]bool              // MACs in the host table
	users  map[string]map[string]string // id -> fields
	active map[string]map[string]string // id -> fields
}

func newFakeRouterOS() *fakeRouterOS {
	return &fakeRouterOS{
		hosts:  make(map[string]bool),
		users:  make(map[string]map[string]string),
		active: make(map[string]map[string]string),
	}
}

func (f *fakeRouterOS) entries(table map[string]map[string]string, mac, name string) []map[string]string {
	out := []map[string]string{}
	for id, fields := range table {
		if mac != "" && fields["mac-address"] != mac {
			continue
		}
		if name != "" && fields["name"] != name {
			continue
		}
		entry := map[string]string{".id": id}
		for k, v := range fields {
			entry[k] = v
		}
		out = append(out, entry)
	}
	return out
}

func (f *fakeRouterOS) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		mac := r.URL.Query().Get("mac-address")
		name := r.URL.Query().Get("name")

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/system/identity":
			json.NewEncoder(w).Encode(map[string]string{"name": "lobby-router"})

		case r.Method == http.MethodGet && r.URL.Path == "/rest/system/resource":
			json.NewEncoder(w).Encode(map[string]string{
				"version":      "7.12",
				"uptime":       "2d3h",
				"cpu-load":     "7",
				"free-memory":  "104857600",
				"total-memory": "268435456",
			})

		case r.Method == http.MethodGet && r.URL.Path == "/rest/ip/hotspot/host":
			out := []map[string]string{}
			if f.hosts[mac] {
				out = append(out, map[string]string{".id": "*H1", "mac-address": mac})
			}
			json.NewEncoder(w).Encode(out)

		case r.Method == http.MethodPut && r.URL.Path == "/rest/ip/hotspot/user":
			var fields map[string]string
			json.NewDecoder(r.Body).Decode(&fields)
			f.nextID++
			f.users[fmt.Sprintf("*U%d", f.nextID)] = fields
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodGet && r.URL.Path == "/rest/ip/hotspot/user":
			json.NewEncoder(w).Encode(f.entries(f.users, mac, name))

		case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/rest/ip/hotspot/user/"):
			id := strings.TrimPrefix(r.URL.Path, "/rest/ip/hotspot/user/")
			fields, ok := f.users[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var patch map[string]string
			json.NewDecoder(r.Body).Decode(&patch)
			for k, v := range patch {
				fields[k] = v
			}
			json.NewEncoder(w).Encode(fields)

		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/rest/ip/hotspot/user/"):
			id := strings.TrimPrefix(r.URL.Path, "/rest/ip/hotspot/user/")
			if _, ok := f.users[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.users, id)
			w.WriteHeader(http.StatusNoContent)

		case r.Method == http.MethodGet && r.URL.Path == "/rest/ip/hotspot/active":
			json.NewEncoder(w).Encode(f.entries(f.active, mac, name))

		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/rest/ip/hotspot/active/"):
			id := strings.TrimPrefix(r.URL.Path, "/rest/ip/hotspot/active/")
			if _, ok := f.active[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.active, id)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeRouterOS) userByName(name string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fields := range f.users {
		if fields["name"] == name {
			return fields
		}
	}
	return nil
}

func newTestClient(t *testing.T, ros *fakeRouterOS) *Client {
	t.Helper()
	srv := httptest.NewServer(ros.handler())
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Username: "admin",
		Password: "secret",
	})
}

func TestClientPingAndInfo(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	info, err := client.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lobby-router", info.Identity)
	assert.Equal(t, "7.12", info.Version)
	assert.Equal(t, 7, info.CPULoad)
	assert.Equal(t, uint64(104857600), info.FreeMemory)
	assert.Equal(t, uint64(268435456), info.TotalMemory)
}

func TestClientVerifyPresence(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)
	ctx := context.Background()

	present, err := client.VerifyPresence(ctx, clientTestMAC)
	require.NoError(t, err)
	assert.False(t, present)

	ros.hosts[clientTestMAC] = true

	present, err = client.VerifyPresence(ctx, clientTestMAC)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestClientVerifyPresenceNormalizesMAC(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	ros.hosts[clientTestMAC] = true

	// RouterOS stores uppercase colon-separated MACs.
	present, err := client.VerifyPresence(context.Background(), "aa-bb-cc-dd-ee-30")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestClientGrant(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	require.NoError(t, client.Grant(context.Background(), clientTestMAC, 60, ""))

	fields := ros.userByName("user_aabbccddee30")
	require.NotNil(t, fields)
	assert.Equal(t, clientTestMAC, fields["mac-address"])
	assert.Equal(t, "60m", fields["limit-uptime"])
	assert.Equal(t, "default", fields["profile"])
}

func TestClientSetTimeLimit(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)
	ctx := context.Background()

	require.NoError(t, client.Grant(ctx, clientTestMAC, 60, "hotspot"))
	require.NoError(t, client.SetTimeLimit(ctx, clientTestMAC, 90))

	fields := ros.userByName("user_aabbccddee30")
	require.NotNil(t, fields)
	assert.Equal(t, "90m", fields["limit-uptime"])
}

func TestClientSetTimeLimitUnknownDevice(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	err := client.SetTimeLimit(context.Background(), clientTestMAC, 90)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestClientRevoke(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)
	ctx := context.Background()

	require.NoError(t, client.Grant(ctx, clientTestMAC, 60, ""))
	ros.active["*A1"] = map[string]string{
		"mac-address": clientTestMAC,
		"user":        "user_aabbccddee30",
	}

	require.NoError(t, client.Revoke(ctx, clientTestMAC))

	assert.Nil(t, ros.userByName("user_aabbccddee30"))
	assert.Empty(t, ros.active)
}

func TestClientRevokeIdempotent(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	// Nothing granted: revoking an unknown MAC is not an error.
	assert.NoError(t, client.Revoke(context.Background(), clientTestMAC))
}

func TestClientBlockUnblock(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)
	ctx := context.Background()

	require.NoError(t, client.Grant(ctx, clientTestMAC, 60, ""))

	require.NoError(t, client.Block(ctx, clientTestMAC))
	assert.Equal(t, "true", ros.userByName("user_aabbccddee30")["disabled"])

	require.NoError(t, client.Unblock(ctx, clientTestMAC))
	assert.Equal(t, "false", ros.userByName("user_aabbccddee30")["disabled"])
}

func TestClientStats(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	ros.active["*A1"] = map[string]string{
		"mac-address": clientTestMAC,
		"bytes-in":    "123456",
		"bytes-out":   "7890123",
	}

	stats, err := client.Stats(context.Background(), clientTestMAC)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), stats.BytesUp)
	assert.Equal(t, uint64(7890123), stats.BytesDown)
}

func TestClientStatsDeviceNotActive(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	_, err := client.Stats(context.Background(), clientTestMAC)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestClientActiveUsers(t *testing.T) {
	ros := newFakeRouterOS()
	client := newTestClient(t, ros)

	ros.active["*A1"] = map[string]string{
		"mac-address": clientTestMAC,
		"user":        "user_aabbccddee30",
		"address":     "10.5.50.10",
		"uptime":      "15m",
		"bytes-in":    "100",
		"bytes-out":   "200",
	}

	users, err := client.ActiveUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, clientTestMAC, users[0].MACAddress)
	assert.Equal(t, "10.5.50.10", users[0].Address)
	assert.Equal(t, uint64(100), users[0].BytesIn)
}

func TestClientRouterUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(ClientConfig{
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Username: "admin",
		Password: "secret",
	})

	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrRouterUnreachable)
}

func TestHotspotUsername(t *testing.T) {
	assert.Equal(t, "user_aabbccddee30", hotspotUsername("AA:BB:CC:DD:EE:30"))
	assert.Equal(t, "user_aabbccddee30", hotspotUsername("aa-bb-cc-dd-ee-30"))
}
