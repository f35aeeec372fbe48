/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/switchmac"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

type fakeRegistry struct {
	infos []terminal.TerminalInfo
}

func (f *fakeRegistry) GetAllTerminalInfo() ([]terminal.TerminalInfo, error) {
	return f.infos, nil
}

func (f *fakeRegistry) Stats() terminal.Stats {
	return terminal.Stats{CurrentTerminals: len(f.infos), Scans: 12}
}

func (*fakeRegistry) Config() terminal.Config {
	return terminal.Config{
		ScanInterval:        100 * time.Millisecond,
		KeepaliveInterval:   2 * time.Minute,
		MissThreshold:       3,
		IfaceInvalidHoldoff: 30 * time.Minute,
		MaxTerminals:        1000,
	}
}

func newRegistry() *fakeRegistry {
	return &fakeRegistry{infos: []terminal.TerminalInfo{{
		MAC:     switchmac.MAC{0, 0x11, 0x22, 0x33, 0x44, 0x55},
		IP:      netip.MustParseAddr("10.0.0.7"),
		Port:    7,
		VLAN:    1,
		IfIndex: 7,
	}}}
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestTerminalsEndpoint(t *testing.T) {
	s := NewServer(":0", newRegistry(), logger.NewTestLogger())

	rec := get(t, s.Handler(), "/api/terminals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.JSONEq(t, `[{
		"tag": 1,
		"tag_name": "ADD",
		"mac": "00:11:22:33:44:55",
		"ip": "10.0.0.7",
		"port": 7,
		"vlan": 1,
		"ifindex": 7
	}]`, rec.Body.String())
}

func TestStatsConfigHealth(t *testing.T) {
	s := NewServer(":0", newRegistry(), logger.NewTestLogger())

	rec := get(t, s.Handler(), "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats terminal.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(12), stats.Scans)
	assert.Equal(t, 1, stats.CurrentTerminals)

	rec = get(t, s.Handler(), "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "100ms", cfg.ScanInterval)
	assert.Equal(t, "2m0s", cfg.KeepaliveInterval)
	assert.Equal(t, "30m0s", cfg.IfaceInvalidHoldoff)
	assert.Equal(t, []uint16{}, cfg.IgnoredVLANs)

	rec = get(t, s.Handler(), "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Terminals)
}

func TestAPIKey(t *testing.T) {
	s := NewServer(":0", newRegistry(), logger.NewTestLogger(), WithAPIKey("k3y"))
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/terminals", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/terminals", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/terminals", map[string]string{"X-API-Key": "k3y"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/stats?api_key=k3y", nil).Code)

	// health stays open without a key
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", nil).Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/api/config", nil).Body.Bytes(), &body))
	assert.Equal(t, http.StatusUnauthorized, body.Status)
}

func TestPreflightAndMethods(t *testing.T) {
	h := NewServer(":0", newRegistry(), logger.NewTestLogger()).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/terminals", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/api/terminals", http.NoBody)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/nope", nil).Code)
}

func TestStreamDeliversBatches(t *testing.T) {
	s := NewServer(":0", newRegistry(), logger.NewTestLogger())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Hub().Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/terminals/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Hub().Broadcast([]terminal.ChangeEvent{{
		Tag:          terminal.TagDel,
		TerminalInfo: terminal.TerminalInfo{MAC: switchmac.MAC{0, 0, 0, 0, 0, 1}, VLAN: 3},
	}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(msg, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "DEL", got[0]["tag_name"])
	assert.Equal(t, "00:00:00:00:00:01", got[0]["mac"])

	_ = conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClients(t *testing.T) {
	h := NewHub(logger.NewTestLogger(), 1)

	slow := &client{send: make(chan []byte, 1), addr: "slow"}
	h.clients[slow] = struct{}{}

	batch := []terminal.ChangeEvent{{Tag: terminal.TagAdd}}

	h.Broadcast(batch)
	assert.Equal(t, 1, h.Clients())

	h.Broadcast(batch)
	assert.Equal(t, 0, h.Clients())

	// the queued batch is still readable, then the queue is closed
	_, ok := <-slow.send
	assert.True(t, ok)
	_, ok = <-slow.send
	assert.False(t, ok)

	h.Broadcast(nil)
}

func TestHubClosedRefusesSubscribers(t *testing.T) {
	h := NewHub(logger.NewTestLogger(), 0)
	h.Close()

	_, ok := h.add(nil, "late")
	assert.False(t, ok)
	assert.Equal(t, 0, h.Clients())
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", newRegistry(), logger.NewTestLogger())

	errCh := make(chan error, 1)

	go func() { errCh <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool { return !strings.HasSuffix(s.Addr(), ":0") }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-errCh)
}

func TestServerStopBeforeStart(t *testing.T) {
	s := NewServer("127.0.0.1:0", newRegistry(), logger.NewTestLogger())

	require.NoError(t, s.Stop(context.Background()))

	errCh := make(chan error, 1)

	go func() { errCh <- s.Start(context.Background()) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Stop")
	}
}

func TestServerStartEndsWithContext(t *testing.T) {
	s := NewServer("127.0.0.1:0", newRegistry(), logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return !strings.HasSuffix(s.Addr(), ":0") }, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start ignored context cancellation")
	}
}
