package http

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/testkit/corekit"
)

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *corekit.Core) {
	t.Helper()
	core := corekit.New(t)
	handler := NewHandler(core.Dispatcher, core.Store, identity.Config{})
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)
	return server, core
}

func doJSON(t *testing.T, method, url, caller string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, env
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDispatch(t *testing.T) {
	server, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", corekit.Owner, map[string]any{
		"op": "event.initialize",
		"args": map[string]any{
			"name":  "Night Harbor Festival",
			"venue": "Pier 9",
			"code":  1,
		},
	})
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		t.Fatalf("initialize: status %d, envelope %+v", resp.StatusCode, env)
	}

	resp, env = doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", corekit.Owner, map[string]any{
		"op":   "event.addTier",
		"args": map[string]any{"name": "GA", "price_cents": 4500, "capacity": 100},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("addTier: status %d, envelope %+v", resp.StatusCode, env)
	}

	var tierData struct {
		Result struct {
			Index uint32 `json:"index"`
		} `json:"result"`
	}
	if err := json.Unmarshal(env.Data, &tierData); err != nil {
		t.Fatalf("decode addTier result: %v", err)
	}
	if tierData.Result.Index != 0 {
		t.Fatalf("tier index = %d, want 0", tierData.Result.Index)
	}

	resp, env = doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", corekit.Buyer, map[string]any{
		"op":   "purchase.buy",
		"args": map[string]any{"tier": 0},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy: status %d, envelope %+v", resp.StatusCode, env)
	}
	var buyData struct {
		Result struct {
			TicketID   uint64 `json:"ticket_id"`
			PriceCents uint64 `json:"price_cents"`
		} `json:"result"`
	}
	if err := json.Unmarshal(env.Data, &buyData); err != nil {
		t.Fatalf("decode buy result: %v", err)
	}
	if buyData.Result.TicketID != 1_000_100_000 || buyData.Result.PriceCents != 4500 {
		t.Fatalf("unexpected buy result: %+v", buyData.Result)
	}
}

func TestDispatchRequiresCaller(t *testing.T) {
	server, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", "", map[string]any{
		"op": "event.get",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if env.Code != "CALLER_MISSING" {
		t.Fatalf("code = %q, want CALLER_MISSING", env.Code)
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	server, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", corekit.Buyer, map[string]any{
		"op": "event.doesNotExist",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if env.Code != "UNKNOWN_OPERATION" {
		t.Fatalf("code = %q, want UNKNOWN_OPERATION", env.Code)
	}
}

func TestDispatchDomainErrorMapping(t *testing.T) {
	server, _ := newTestServer(t)

	// Not the creator: forbidden.
	resp, env := doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", corekit.Buyer, map[string]any{
		"op":   "event.initialize",
		"args": map[string]any{"name": "Hijack", "code": 1},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if env.Code != "CALLER_NOT_CREATOR" {
		t.Fatalf("code = %q, want CALLER_NOT_CREATOR", env.Code)
	}
}

func TestRouteViews(t *testing.T) {
	server, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodGet, server.URL+"/v1/modules", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("modules: status %d", resp.StatusCode)
	}
	var modulesData struct {
		Modules []struct {
			Address    string   `json:"address"`
			Operations []string `json:"operations"`
		} `json:"modules"`
	}
	if err := json.Unmarshal(env.Data, &modulesData); err != nil {
		t.Fatalf("decode modules: %v", err)
	}
	if len(modulesData.Modules) != 4 {
		t.Fatalf("module count = %d, want 4", len(modulesData.Modules))
	}

	resp, env = doJSON(t, http.MethodGet, server.URL+"/v1/operations/event.get", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: status %d", resp.StatusCode)
	}
	var resolved struct {
		Module string `json:"module"`
	}
	if err := json.Unmarshal(env.Data, &resolved); err != nil {
		t.Fatalf("decode resolve: %v", err)
	}
	if resolved.Module != "event@1" {
		t.Fatalf("module = %q, want event@1", resolved.Module)
	}

	resp, env = doJSON(t, http.MethodGet, server.URL+"/v1/owner", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner: status %d", resp.StatusCode)
	}
	var ownerData struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(env.Data, &ownerData); err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if ownerData.Owner != corekit.Owner {
		t.Fatalf("owner = %q", ownerData.Owner)
	}
}

func TestSubmitRouteChanges(t *testing.T) {
	server, _ := newTestServer(t)

	// Removing a mapped operation requires the null module address.
	resp, env := doJSON(t, http.MethodPost, server.URL+"/v1/routes", corekit.Owner, map[string]any{
		"changes": []map[string]any{
			{"action": "remove", "address": "", "ops": []string{"event.updateMetadata"}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("routes: status %d, envelope %+v", resp.StatusCode, env)
	}

	resp, env = doJSON(t, http.MethodGet, server.URL+"/v1/operations/event.updateMetadata", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve after remove: status %d, want 404", resp.StatusCode)
	}
	if env.Code != "OPERATION_NOT_MAPPED" {
		t.Fatalf("code = %q, want OPERATION_NOT_MAPPED", env.Code)
	}

	// Only the owner may mutate routes.
	resp, env = doJSON(t, http.MethodPost, server.URL+"/v1/routes", corekit.Buyer, map[string]any{
		"changes": []map[string]any{
			{"action": "remove", "address": "", "ops": []string{"event.get"}},
		},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("routes as stranger: status %d, want 403", resp.StatusCode)
	}
	_ = env
}

func TestTransferOwnership(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/ownership/transfer", corekit.Owner, map[string]any{
		"new_owner": corekit.Second,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer: status %d", resp.StatusCode)
	}

	_, env := doJSON(t, http.MethodGet, server.URL+"/v1/owner", "", nil)
	var ownerData struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(env.Data, &ownerData); err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if ownerData.Owner != corekit.Second {
		t.Fatalf("owner = %q, want %q", ownerData.Owner, corekit.Second)
	}
}

func TestNotifications(t *testing.T) {
	server, _ := newTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/v1/dispatch", corekit.Owner, map[string]any{
		"op":   "event.initialize",
		"args": map[string]any{"name": "Night Harbor Festival", "code": 1},
	})

	resp, env := doJSON(t, http.MethodGet, server.URL+"/v1/notifications?after=0&limit=10", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notifications: status %d", resp.StatusCode)
	}
	var data struct {
		Notifications []struct {
			Seq  uint64 `json:"seq"`
			Kind string `json:"kind"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(data.Notifications) == 0 {
		t.Fatal("expected at least one notification")
	}
	last := data.Notifications[len(data.Notifications)-1]
	if last.Kind != "event.initialized" {
		t.Fatalf("last kind = %q, want event.initialized", last.Kind)
	}
}

func TestGrantAuthentication(t *testing.T) {
	core := corekit.New(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	idCfg := identity.Config{
		Issuer:   "stagegate-test",
		Audience: "stagegate-core",
		Key:      pub,
	}
	handler := NewHandler(core.Dispatcher, core.Store, idCfg)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	grant, err := identity.Sign(priv, idCfg.Issuer, idCfg.Audience, corekit.Owner, time.Minute, nil)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"op":   "event.initialize",
		"args": map[string]any{"name": "Night Harbor Festival", "code": 1},
	})
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/dispatch", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+grant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("dispatch with grant: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// With verification enabled the X-Caller header is ignored; a request
	// without a grant has no identity.
	req, err = http.NewRequest(http.MethodPost, server.URL+"/v1/dispatch", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Caller", corekit.Owner)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("dispatch without grant: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// A garbage grant is rejected outright.
	req, err = http.NewRequest(http.MethodPost, server.URL+"/v1/dispatch", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer not-a-grant")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("dispatch with bad grant: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
