package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "ro-token", Scopes: []string{ScopeGrantsRead, ScopeEventsRead}},
		{Token: "rw-token", Scopes: []string{" grants:rw "}},
	}

	p, ok := Authenticate("admin", "admin", tokens)
	if !ok || !HasAnyScope(p, ScopeGrantsWrite) {
		t.Fatal("api key should authenticate as admin")
	}

	p, ok = Authenticate("ro-token", "admin", tokens)
	if !ok {
		t.Fatal("ro-token rejected")
	}
	if HasAnyScope(p, ScopeGrantsWrite) {
		t.Error("ro-token must not write grants")
	}
	if !HasAnyScope(p, ScopeEventsRead) {
		t.Error("ro-token should read events")
	}

	p, ok = Authenticate("rw-token", "admin", tokens)
	if !ok || !HasAnyScope(p, ScopeGrantsRead) {
		t.Error("grants:rw should imply grants:ro")
	}

	if _, ok := Authenticate("nope", "admin", tokens); ok {
		t.Error("unknown token accepted")
	}
	if _, ok := Authenticate("", "", nil); ok {
		t.Error("empty token accepted against empty api key")
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{Token: "x"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "x" {
		t.Fatalf("principal not round-tripped: %+v", p)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context should have no principal")
	}
}

func TestKnownScope(t *testing.T) {
	for _, s := range []string{"*", "grants:ro", "grants:rw", "keybindings:ro", "events:ro", "input:rw"} {
		if !KnownScope(s) {
			t.Errorf("KnownScope(%q) = false", s)
		}
	}
	if KnownScope("plugin:rw") {
		t.Error("plugin:rw is not a wayguard scope")
	}
}
