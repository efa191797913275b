package strategy

import (
	"net/http"
	"testing"

	"github.com/any-hub/shellcache/internal/resource"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func TestBuiltinProfiles(t *testing.T) {
	keys := Keys()
	want := []string{KeyFontCDN, KeyScriptCDN, KeyGeneric}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("unexpected order: %v", keys)
		}
	}

	generic, ok := Resolve("GENERIC")
	if !ok || !generic.OfflineFallback {
		t.Fatalf("generic should resolve with offline fallback")
	}
	font, _ := Resolve(KeyFontCDN)
	if font.OfflineFallback {
		t.Fatalf("font-cdn must not fall back")
	}
	if len(font.DefaultHosts) != 2 || font.DefaultHosts[1] != "fonts.gstatic.com" {
		t.Fatalf("unexpected font hosts: %v", font.DefaultHosts)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Profile{Key: "custom"}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Profile{Key: " Custom "}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := Register(Profile{Key: "  "}); err == nil {
		t.Fatalf("empty key should fail")
	}
}

func TestGuards(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		typ      resource.Type
		okGuard  bool
		basic200 bool
	}{
		{"basic 200", http.StatusOK, resource.TypeBasic, true, true},
		{"basic 204", http.StatusNoContent, resource.TypeBasic, true, false},
		{"opaque 200", http.StatusOK, resource.TypeOpaque, true, false},
		{"cors 200", http.StatusOK, resource.TypeCORS, true, false},
		{"basic 404", http.StatusNotFound, resource.TypeBasic, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := resource.NewBytesResponse(tc.status, nil, nil)
			resp.Type = tc.typ
			if got := GuardOK(resp); got != tc.okGuard {
				t.Fatalf("GuardOK = %v", got)
			}
			if got := GuardBasic200(resp); got != tc.basic200 {
				t.Fatalf("GuardBasic200 = %v", got)
			}
		})
	}
	if GuardOK(nil) || GuardBasic200(nil) {
		t.Fatalf("nil response must never be stored")
	}
	if (Profile{}).Storable(resource.NewBytesResponse(http.StatusOK, nil, nil)) != true {
		t.Fatalf("profile without guard should accept ok responses")
	}
}
