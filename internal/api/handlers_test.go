package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/wayguard/internal/audit"
	"github.com/mattjoyce/wayguard/internal/auth"
	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/compositor"
	"github.com/mattjoyce/wayguard/internal/display"
	"github.com/mattjoyce/wayguard/internal/events"
	"github.com/mattjoyce/wayguard/internal/keybindings"
	"github.com/mattjoyce/wayguard/internal/keymask"
	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/spawn"
)

const testKey = "test-key-123"

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// mockCore implements Core for testing
type mockCore struct {
	grantsFunc      func(ctx context.Context) ([]authz.Info, error)
	grantFunc       func(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error)
	revokeFunc      func(ctx context.Context, id string) error
	keybindingsFunc func(ctx context.Context) ([]keybindings.Info, error)
	injectKeyFunc   func(ctx context.Context, key, mods uint32, pressed bool, time uint32) (bool, error)
}

func (m *mockCore) Grants(ctx context.Context) ([]authz.Info, error) {
	if m.grantsFunc == nil {
		return nil, nil
	}
	return m.grantsFunc(ctx)
}

func (m *mockCore) Grant(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error) {
	return m.grantFunc(ctx, name, perms, command)
}

func (m *mockCore) Revoke(ctx context.Context, id string) error {
	return m.revokeFunc(ctx, id)
}

func (m *mockCore) Keybindings(ctx context.Context) ([]keybindings.Info, error) {
	if m.keybindingsFunc == nil {
		return nil, nil
	}
	return m.keybindingsFunc(ctx)
}

func (m *mockCore) InjectKey(ctx context.Context, key, mods uint32, pressed bool, time uint32) (bool, error) {
	return m.injectKeyFunc(ctx, key, mods, pressed, time)
}

// mockAudit implements AuditLog for testing
type mockAudit struct {
	listFunc func(ctx context.Context, grantID string, limit int) ([]audit.Entry, error)
}

func (m *mockAudit) List(ctx context.Context, grantID string, limit int) ([]audit.Entry, error) {
	return m.listFunc(ctx, grantID, limit)
}

func newTestServer(core *mockCore, log AuditLog) *Server {
	config := Config{
		Listen: "localhost:8765",
		APIKey: testKey,
	}
	return New(config, core, log, events.NewHub(10), slog.Default())
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	core := &mockCore{
		grantsFunc: func(ctx context.Context) ([]authz.Info, error) {
			return []authz.Info{{ID: "g-1"}, {ID: "g-2"}}, nil
		},
		keybindingsFunc: func(ctx context.Context) ([]keybindings.Info, error) {
			return nil, compositor.ErrKeybindingsDisabled
		},
	}
	rr := do(t, newTestServer(core, nil), http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.Grants != 2 || resp.Keybindings != 0 {
		t.Fatalf("unexpected healthz response: %+v", resp)
	}
}

func TestHandleHealthz_Closed(t *testing.T) {
	core := &mockCore{
		grantsFunc: func(ctx context.Context) ([]authz.Info, error) { return nil, display.ErrClosed },
	}
	rr := do(t, newTestServer(core, nil), http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(&mockCore{}, nil)
	s.config.Tokens = []auth.TokenConfig{
		{Token: "events-token", Scopes: []string{auth.ScopeEventsRead}},
		{Token: "rw-token", Scopes: []string{auth.ScopeGrantsWrite}},
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "nope", http.StatusUnauthorized},
		{"wrong scope", "events-token", http.StatusForbidden},
		{"write implies read", "rw-token", http.StatusOK},
		{"admin key", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, "/grants", tt.token, "")
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestListGrants_EmptyIsArray(t *testing.T) {
	rr := do(t, newTestServer(&mockCore{}, nil), http.MethodGet, "/grants", testKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"grants":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestCreateGrant(t *testing.T) {
	core := &mockCore{
		grantFunc: func(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error) {
			if name != "hotkeys" || perms != authz.Keybindings || command != "hotkeyd --daemon" {
				t.Errorf("unexpected grant request: %q %v %q", name, perms, command)
			}
			return authz.Info{ID: "g-1", Name: name, Permissions: perms.Names(), Command: command, Executed: true}, nil
		},
	}
	s := newTestServer(core, nil)

	rr := do(t, s, http.MethodPost, "/grants", testKey,
		`{"name":"hotkeys","command":" hotkeyd --daemon ","permissions":["keybindings"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var info authz.Info
	decode(t, rr, &info)
	if info.ID != "g-1" || !info.Executed {
		t.Fatalf("unexpected grant: %+v", info)
	}
}

func TestCreateGrant_BadRequests(t *testing.T) {
	core := &mockCore{
		grantFunc: func(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error) {
			t.Fatalf("grant should not be called")
			return authz.Info{}, nil
		},
	}
	s := newTestServer(core, nil)

	for name, body := range map[string]string{
		"invalid json":       `{`,
		"missing command":    `{"permissions":["keybindings"]}`,
		"unknown permission": `{"command":"x","permissions":["screenshots"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/grants", testKey, body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestCreateGrant_CoreErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{authz.ErrResourceExhausted, http.StatusTooManyRequests},
		{fmt.Errorf("execute %q: %w", "x", spawn.ErrSpawn), http.StatusBadGateway},
		{display.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			core := &mockCore{
				grantFunc: func(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error) {
					return authz.Info{}, tt.err
				},
			}
			rr := do(t, newTestServer(core, nil), http.MethodPost, "/grants", testKey, `{"command":"x","permissions":[]}`)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestRevokeGrant(t *testing.T) {
	var revoked []string
	core := &mockCore{
		revokeFunc: func(ctx context.Context, id string) error {
			if id != "g-1" {
				return authz.ErrNotFound
			}
			revoked = append(revoked, id)
			return nil
		},
	}
	s := newTestServer(core, nil)
	s.config.Tokens = []auth.TokenConfig{{Token: "ro-token", Scopes: []string{auth.ScopeGrantsRead}}}

	if rr := do(t, s, http.MethodDelete, "/grants/g-1", "ro-token", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for read-only token, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodDelete, "/grants/g-1", testKey, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodDelete, "/grants/g-9", testKey, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if len(revoked) != 1 {
		t.Fatalf("expected one revoke, got %v", revoked)
	}
}

func TestGrantLog(t *testing.T) {
	log := &mockAudit{
		listFunc: func(ctx context.Context, grantID string, limit int) ([]audit.Entry, error) {
			if grantID != "g-1" {
				return nil, nil
			}
			if limit != 2 {
				t.Errorf("expected limit 2, got %d", limit)
			}
			return []audit.Entry{
				{Seq: 2, GrantID: "g-1", Event: string(authz.EventRevoked), Reason: string(authz.ReasonDisconnected)},
				{Seq: 1, GrantID: "g-1", Event: string(authz.EventExecuted)},
			}, nil
		},
	}
	s := newTestServer(&mockCore{}, log)

	rr := do(t, s, http.MethodGet, "/grants/g-1/log?limit=2", testKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp GrantLogResponse
	decode(t, rr, &resp)
	if len(resp.Entries) != 2 || resp.Entries[0].Reason != "disconnected" {
		t.Fatalf("unexpected log: %+v", resp)
	}

	if rr := do(t, s, http.MethodGet, "/grants/g-2/log", testKey, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown grant, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/grants/g-1/log?limit=x", testKey, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rr.Code)
	}
	if rr := do(t, newTestServer(&mockCore{}, nil), http.MethodGet, "/grants/g-1/log", testKey, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 without audit log, got %d", rr.Code)
	}
}

func TestListKeybindings(t *testing.T) {
	core := &mockCore{
		keybindingsFunc: func(ctx context.Context) ([]keybindings.Info, error) {
			return []keybindings.Info{{ClientID: 3, ResourceID: 4, Keys: []keymask.Entry{{Key: 23, Mods: protocol.ModMod4}}}}, nil
		},
	}
	s := newTestServer(core, nil)
	s.config.Tokens = []auth.TokenConfig{{Token: "kb-token", Scopes: []string{auth.ScopeKeybindings}}}

	rr := do(t, s, http.MethodGet, "/keybindings", "kb-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp KeybindingsResponse
	decode(t, rr, &resp)
	if len(resp.Registrations) != 1 || resp.Registrations[0].Keys[0].Key != 23 {
		t.Fatalf("unexpected registrations: %+v", resp)
	}

	core.keybindingsFunc = func(ctx context.Context) ([]keybindings.Info, error) {
		return nil, compositor.ErrKeybindingsDisabled
	}
	if rr := do(t, s, http.MethodGet, "/keybindings", "kb-token", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 when disabled, got %d", rr.Code)
	}
}

func TestInjectKey(t *testing.T) {
	type call struct {
		key, mods uint32
		pressed   bool
		time      uint32
	}
	var calls []call
	core := &mockCore{
		injectKeyFunc: func(ctx context.Context, key, mods uint32, pressed bool, time uint32) (bool, error) {
			calls = append(calls, call{key, mods, pressed, time})
			return key == 23, nil
		},
	}
	s := newTestServer(core, nil)
	s.config.Tokens = []auth.TokenConfig{{Token: "grants-token", Scopes: []string{auth.ScopeGrantsWrite}}}

	if rr := do(t, s, http.MethodPost, "/keys", "grants-token", `{"key":23}`); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 without input scope, got %d", rr.Code)
	}

	rr := do(t, s, http.MethodPost, "/keys", testKey, `{"key":23,"mods":["logo","shift"],"state":"released","time":100}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp InjectKeyResponse
	decode(t, rr, &resp)
	want := protocol.ModMod4 | protocol.ModShift
	if !resp.Claimed || resp.Mods != want || resp.State != "released" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(calls) != 1 || calls[0] != (call{23, want, false, 100}) {
		t.Fatalf("unexpected inject calls: %+v", calls)
	}

	rr = do(t, s, http.MethodPost, "/keys", testKey, `{"key":9,"mask":4}`)
	decode(t, rr, &resp)
	if resp.Claimed || resp.State != "pressed" || resp.Mods != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if calls[1].time == 0 {
		t.Fatalf("expected server clock when time is omitted")
	}

	for name, body := range map[string]string{
		"key out of range":    `{"key":16777216}`,
		"key at domain bound": `{"key":16777215}`,
		"unknown modifier":    `{"key":1,"mods":["hyper"]}`,
		"bad state":           `{"key":1,"state":"held"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if rr := do(t, s, http.MethodPost, "/keys", testKey, body); rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestOpenAPI(t *testing.T) {
	rr := do(t, newTestServer(&mockCore{}, nil), http.MethodGet, "/openapi.json", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Scope     string         `json:"x-required-scope"`
			Responses map[string]any `json:"responses"`
		} `json:"paths"`
	}
	decode(t, rr, &doc)

	if doc.Paths["/grants"]["post"].Scope != auth.ScopeGrantsWrite {
		t.Fatalf("unexpected POST /grants: %+v", doc.Paths["/grants"])
	}
	if _, ok := doc.Paths["/grants"]["get"].Responses["403"]; !ok {
		t.Fatalf("expected 403 on protected route")
	}
	if _, ok := doc.Paths["/healthz"]["get"].Responses["401"]; ok {
		t.Fatalf("healthz is unauthenticated")
	}
	if len(doc.Paths) != 7 {
		t.Fatalf("expected 7 paths, got %d", len(doc.Paths))
	}
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(&mockCore{}, nil)
	s.events.Publish("grant.created", map[string]string{"id": "g-1"})
	s.events.Publish("grant.executed", map[string]string{"id": "g-1"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	next := func() []string {
		var lines []string
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				return lines
			}
			if !strings.HasPrefix(line, ":") {
				lines = append(lines, line)
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return nil
	}

	if got := next(); got[0] != "id: 2" || got[1] != "event: grant.executed" {
		t.Fatalf("expected replay from id 2, got %v", got)
	}

	s.events.Publish("grant.revoked", map[string]string{"id": "g-1"})
	got := next()
	if got[0] != "id: 3" || got[1] != "event: grant.revoked" || got[2] != `data: {"id":"g-1"}` {
		t.Fatalf("unexpected live event %v", got)
	}
}
