package mikrotik

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig holds connection settings for one router.
type ClientConfig struct {
	Address  string // router address, e.g. "192.168.88.1"
	Username string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

// Client talks to a RouterOS v7 device over its REST API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a REST client for a single router.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	scheme := "http"
	transport := http.DefaultTransport
	if cfg.UseTLS {
		scheme = "https"
		// Hotspot routers almost always run self-signed certificates.
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL:  fmt.Sprintf("%s://%s/rest", scheme, cfg.Address),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// do performs one REST call and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRouterUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDeviceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("router returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Ping verifies the router responds to the API.
func (c *Client) Ping(ctx context.Context) error {
	var identity struct {
		Name string `json:"name"`
	}
	return c.do(ctx, http.MethodGet, "/system/identity", nil, &identity)
}

// Info returns identity and resource usage.
func (c *Client) Info(ctx context.Context) (*RouterInfo, error) {
	var identity struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/system/identity", nil, &identity); err != nil {
		return nil, err
	}

	var resource struct {
		Version     string `json:"version"`
		Uptime      string `json:"uptime"`
		CPULoad     string `json:"cpu-load"`
		FreeMemory  string `json:"free-memory"`
		TotalMemory string `json:"total-memory"`
	}
	if err := c.do(ctx, http.MethodGet, "/system/resource", nil, &resource); err != nil {
		return nil, err
	}

	cpuLoad, _ := strconv.Atoi(resource.CPULoad)
	freeMem, _ := strconv.ParseUint(resource.FreeMemory, 10, 64)
	totalMem, _ := strconv.ParseUint(resource.TotalMemory, 10, 64)

	return &RouterInfo{
		Identity:    identity.Name,
		Version:     resource.Version,
		Uptime:      resource.Uptime,
		CPULoad:     cpuLoad,
		FreeMemory:  freeMem,
		TotalMemory: totalMem,
	}, nil
}

// hotspotEntry is the wire shape RouterOS uses across hotspot tables.
// All numeric values arrive as strings.
type hotspotEntry struct {
	ID         string `json:".id"`
	Name       string `json:"name,omitempty"`
	User       string `json:"user,omitempty"`
	Address    string `json:"address,omitempty"`
	MACAddress string `json:"mac-address,omitempty"`
	Uptime     string `json:"uptime,omitempty"`
	BytesIn    string `json:"bytes-in,omitempty"`
	BytesOut   string `json:"bytes-out,omitempty"`
	Disabled   string `json:"disabled,omitempty"`
}

// VerifyPresence checks the hotspot host table for the MAC.
func (c *Client) VerifyPresence(ctx context.Context, mac string) (bool, error) {
	var hosts []hotspotEntry
	path := "/ip/hotspot/host?mac-address=" + url.QueryEscape(normalizeMAC(mac))
	if err := c.do(ctx, http.MethodGet, path, nil, &hosts); err != nil {
		return false, err
	}
	return len(hosts) > 0, nil
}

// Grant creates a hotspot user bound to the MAC with an uptime limit.
func (c *Client) Grant(ctx context.Context, mac string, minutes int, profile string) error {
	if profile == "" {
		profile = "default"
	}

	body := map[string]string{
		"name":         hotspotUsername(mac),
		"mac-address":  normalizeMAC(mac),
		"limit-uptime": fmt.Sprintf("%dm", minutes),
		"profile":      profile,
	}
	if err := c.do(ctx, http.MethodPut, "/ip/hotspot/user", body, nil); err != nil {
		return fmt.Errorf("create hotspot user: %w", err)
	}

	log.Info().
		Str("mac", mac).
		Int("minutes", minutes).
		Str("profile", profile).
		Msg("Hotspot access granted")

	return nil
}

// Revoke removes the hotspot user and any active login for the MAC.
func (c *Client) Revoke(ctx context.Context, mac string) error {
	if err := c.Disconnect(ctx, mac); err != nil && err != ErrDeviceNotFound {
		return err
	}

	user, err := c.findUser(ctx, mac)
	if err != nil {
		if err == ErrDeviceNotFound {
			return nil
		}
		return err
	}

	if err := c.do(ctx, http.MethodDelete, "/ip/hotspot/user/"+user.ID, nil, nil); err != nil && err != ErrDeviceNotFound {
		return fmt.Errorf("delete hotspot user: %w", err)
	}

	log.Info().Str("mac", mac).Msg("Hotspot access revoked")
	return nil
}

// SetTimeLimit replaces the uptime limit on the device's hotspot user.
func (c *Client) SetTimeLimit(ctx context.Context, mac string, minutes int) error {
	user, err := c.findUser(ctx, mac)
	if err != nil {
		return err
	}

	body := map[string]string{
		"limit-uptime": fmt.Sprintf("%dm", minutes),
	}
	if err := c.do(ctx, http.MethodPatch, "/ip/hotspot/user/"+user.ID, body, nil); err != nil {
		return fmt.Errorf("update uptime limit: %w", err)
	}

	return nil
}

// Disconnect drops the device from the hotspot active table.
func (c *Client) Disconnect(ctx context.Context, mac string) error {
	var active []hotspotEntry
	path := "/ip/hotspot/active?mac-address=" + url.QueryEscape(normalizeMAC(mac))
	if err := c.do(ctx, http.MethodGet, path, nil, &active); err != nil {
		return err
	}
	if len(active) == 0 {
		return ErrDeviceNotFound
	}

	for _, entry := range active {
		if err := c.do(ctx, http.MethodDelete, "/ip/hotspot/active/"+entry.ID, nil, nil); err != nil && err != ErrDeviceNotFound {
			return fmt.Errorf("remove active login: %w", err)
		}
	}

	return nil
}

// Block disables the device's hotspot user.
func (c *Client) Block(ctx context.Context, mac string) error {
	return c.setDisabled(ctx, mac, true)
}

// Unblock re-enables the device's hotspot user.
func (c *Client) Unblock(ctx context.Context, mac string) error {
	return c.setDisabled(ctx, mac, false)
}

func (c *Client) setDisabled(ctx context.Context, mac string, disabled bool) error {
	user, err := c.findUser(ctx, mac)
	if err != nil {
		return err
	}

	body := map[string]string{
		"disabled": strconv.FormatBool(disabled),
	}
	if err := c.do(ctx, http.MethodPatch, "/ip/hotspot/user/"+user.ID, body, nil); err != nil {
		return fmt.Errorf("update hotspot user: %w", err)
	}

	return nil
}

// Stats returns traffic counters from the device's active entry.
func (c *Client) Stats(ctx context.Context, mac string) (*DeviceStats, error) {
	var active []hotspotEntry
	path := "/ip/hotspot/active?mac-address=" + url.QueryEscape(normalizeMAC(mac))
	if err := c.do(ctx, http.MethodGet, path, nil, &active); err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrDeviceNotFound
	}

	// bytes-in is traffic from the client, bytes-out toward it
	bytesIn, _ := strconv.ParseUint(active[0].BytesIn, 10, 64)
	bytesOut, _ := strconv.ParseUint(active[0].BytesOut, 10, 64)

	return &DeviceStats{
		BytesUp:   bytesIn,
		BytesDown: bytesOut,
	}, nil
}

// ActiveUsers lists the hotspot active table.
func (c *Client) ActiveUsers(ctx context.Context) ([]ActiveUser, error) {
	var entries []hotspotEntry
	if err := c.do(ctx, http.MethodGet, "/ip/hotspot/active", nil, &entries); err != nil {
		return nil, err
	}

	users := make([]ActiveUser, 0, len(entries))
	for _, entry := range entries {
		bytesIn, _ := strconv.ParseUint(entry.BytesIn, 10, 64)
		bytesOut, _ := strconv.ParseUint(entry.BytesOut, 10, 64)
		users = append(users, ActiveUser{
			ID:         entry.ID,
			User:       entry.User,
			Address:    entry.Address,
			MACAddress: entry.MACAddress,
			Uptime:     entry.Uptime,
			BytesIn:    bytesIn,
			BytesOut:   bytesOut,
		})
	}

	return users, nil
}

// findUser locates the hotspot user bound to the MAC.
func (c *Client) findUser(ctx context.Context, mac string) (*hotspotEntry, error) {
	var users []hotspotEntry
	path := "/ip/hotspot/user?name=" + url.QueryEscape(hotspotUsername(mac))
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrDeviceNotFound
	}
	return &users[0], nil
}

// hotspotUsername derives the hotspot user name from a MAC address.
func hotspotUsername(mac string) string {
	stripped := strings.NewReplacer(":", "", "-", "").Replace(mac)
	return "user_" + strings.ToLower(stripped)
}

// normalizeMAC uppercases a MAC and converts dashes to colons, the
// format RouterOS stores in its tables.
func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
}
