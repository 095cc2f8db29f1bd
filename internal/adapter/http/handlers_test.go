package adapthttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	adapthttp "github.com/Tabares32/shipping-backend/internal/adapter/http"
	"github.com/Tabares32/shipping-backend/internal/adapter/memory"
	"github.com/Tabares32/shipping-backend/internal/adapter/ws"
	"github.com/Tabares32/shipping-backend/internal/app"
	"github.com/Tabares32/shipping-backend/internal/auth"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

const (
	adminName     = "Christian Tabares"
	adminPassword = "Shipping3"
)

type testConfig struct {
	openSignup  bool
	storageAuth bool
	origins     []string
}

// newTestServer wires the full stack over an in-memory store with a seeded
// admin account.
func newTestServer(t *testing.T, cfg testConfig) *httptest.Server {
	t.Helper()

	store := memory.New()
	log := logging.Discard()
	hub := ws.NewHub(ws.DefaultBufferSize, log)
	metrics := adapthttp.NewMetrics(hub.Subscribers)
	notifier := metrics.Notifier(hub)

	passwords := app.NewPasswordChecker(false, bcrypt.MinCost)
	authSvc := app.NewAuthService(
		app.NewUserDirectory(store),
		auth.NewCodec([]byte("test-secret")),
		passwords,
		app.AuthOptions{OpenSignup: cfg.openSignup},
		log,
	)
	if _, err := authSvc.SeedAdmin(context.Background(), adminName, adminPassword); err != nil {
		t.Fatal(err)
	}
	syncSvc := app.NewSyncService(store, notifier, nil, log).WithPasswords(passwords)
	storageSvc := app.NewStorageService(store, notifier)

	origins := cfg.origins
	if origins == nil {
		origins = []string{"*"}
	}
	srv := adapthttp.New(authSvc, syncSvc, storageSvc, hub, metrics, adapthttp.Options{
		CORSOrigins:         origins,
		StorageRequiresAuth: cfg.storageAuth,
	}, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return m
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func login(t *testing.T, ts *httptest.Server, username, password string) string {
	t.Helper()
	resp := do(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	defer resp.Body.Close() //nolint:errcheck
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d; body: %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login: response missing token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodGet, ts.URL+"/api/health", "", nil)
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", resp.Header.Get("Cache-Control"))
	}
}

func TestLoginAndMe(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"username": adminName,
		"password": adminPassword,
	})
	defer resp.Body.Close() //nolint:errcheck
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %v", resp.StatusCode, body)
	}
	if body["username"] != adminName || body["role"] != "admin" {
		t.Fatalf("unexpected login body: %v", body)
	}

	token := body["token"].(string)
	me := do(t, http.MethodGet, ts.URL+"/api/auth/me", token, nil)
	defer me.Body.Close() //nolint:errcheck
	meBody := decodeBody(t, me)
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", me.StatusCode)
	}
	if meBody["username"] != adminName || meBody["role"] != "admin" {
		t.Fatalf("unexpected me body: %v", meBody)
	}
}

func TestLoginFailures(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"wrong password", map[string]string{"username": adminName, "password": "nope"}, http.StatusUnauthorized, "unauthenticated"},
		{"unknown user", map[string]string{"username": "ghost", "password": adminPassword}, http.StatusUnauthorized, "unauthenticated"},
		{"invalid json", "{", http.StatusBadRequest, "bad_request"},
		{"unknown field", map[string]string{"user": adminName}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/api/auth/login", "", tc.body)
			defer resp.Body.Close() //nolint:errcheck
			body := decodeBody(t, resp)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d; body: %v", tc.wantStatus, resp.StatusCode, body)
			}
			if body["code"] != tc.wantCode {
				t.Fatalf("expected code %q, got %v", tc.wantCode, body["code"])
			}
		})
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/auth/login", "", nil)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestMeRejectsBadTokens(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	token := login(t, ts, adminName, adminPassword)

	for name, header := range map[string]string{
		"missing":   "",
		"no bearer": token,
		"lowercase": "bearer " + token,
		"garbage":   "Bearer not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close() //nolint:errcheck
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestUsersRequireAuth(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodGet, ts.URL+"/api/users", "", nil)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["code"] != "unauthenticated" {
		t.Fatalf("expected code unauthenticated, got %v", body["code"])
	}

	create := do(t, http.MethodPost, ts.URL+"/api/users", "", map[string]string{"username": "x", "password": "y"})
	defer create.Body.Close() //nolint:errcheck
	if create.StatusCode != http.StatusUnauthorized {
		t.Fatalf("create without token: expected 401, got %d", create.StatusCode)
	}
}

func TestUserLifecycle(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	admin := login(t, ts, adminName, adminPassword)

	list := do(t, http.MethodGet, ts.URL+"/api/users", admin, nil)
	defer list.Body.Close() //nolint:errcheck
	var users []map[string]any
	if err := json.NewDecoder(list.Body).Decode(&users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0]["username"] != adminName {
		t.Fatalf("expected only the seeded admin, got %v", users)
	}
	if _, ok := users[0]["password"]; ok {
		t.Fatal("user list must not expose passwords")
	}

	create := do(t, http.MethodPost, ts.URL+"/api/users", admin, map[string]string{
		"username": "Maria",
		"password": "secret",
	})
	defer create.Body.Close() //nolint:errcheck
	created := decodeBody(t, create)
	if create.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d; body: %v", create.StatusCode, created)
	}
	user := created["user"].(map[string]any)
	if created["ok"] != true || user["role"] != "user" {
		t.Fatalf("unexpected create body: %v", created)
	}
	id := user["id"].(string)

	dup := do(t, http.MethodPost, ts.URL+"/api/users", admin, map[string]string{
		"username": "maria",
		"password": "other",
	})
	defer dup.Body.Close() //nolint:errcheck
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", dup.StatusCode)
	}

	maria := login(t, ts, "Maria", "secret")
	forbidden := do(t, http.MethodGet, ts.URL+"/api/users", maria, nil)
	defer forbidden.Body.Close() //nolint:errcheck
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin list: expected 403, got %d", forbidden.StatusCode)
	}

	update := do(t, http.MethodPut, ts.URL+"/api/users/"+id, admin, map[string]string{"role": "admin"})
	defer update.Body.Close() //nolint:errcheck
	updated := decodeBody(t, update)
	if update.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d; body: %v", update.StatusCode, updated)
	}
	if updated["user"].(map[string]any)["role"] != "admin" {
		t.Fatalf("role not updated: %v", updated)
	}

	del := do(t, http.MethodDelete, ts.URL+"/api/users/"+id, admin, nil)
	defer del.Body.Close() //nolint:errcheck
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", del.StatusCode)
	}

	missing := do(t, http.MethodDelete, ts.URL+"/api/users/"+id, admin, nil)
	defer missing.Body.Close() //nolint:errcheck
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("delete again: expected 404, got %d", missing.StatusCode)
	}
}

func TestDeleteLastAdminConflicts(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	admin := login(t, ts, adminName, adminPassword)

	resp := do(t, http.MethodDelete, ts.URL+"/api/users/"+app.SeedAdminID, admin, nil)
	defer resp.Body.Close() //nolint:errcheck
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d; body: %v", resp.StatusCode, body)
	}
	if body["code"] != "conflict" {
		t.Fatalf("expected code conflict, got %v", body["code"])
	}
}

func TestOpenSignup(t *testing.T) {
	ts := newTestServer(t, testConfig{openSignup: true})

	resp := do(t, http.MethodPost, ts.URL+"/api/users", "", map[string]string{
		"username": "walk-in",
		"password": "pw",
		"role":     "admin",
	})
	defer resp.Body.Close() //nolint:errcheck
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d; body: %v", resp.StatusCode, body)
	}
	if role := body["user"].(map[string]any)["role"]; role != "user" {
		t.Fatalf("open signup must create regular users, got role %v", role)
	}

	cfg := do(t, http.MethodGet, ts.URL+"/api/auth/config", "", nil)
	defer cfg.Body.Close() //nolint:errcheck
	cfgBody := decodeBody(t, cfg)
	if cfgBody["open_signup"] != true || cfgBody["sso_enabled"] != false {
		t.Fatalf("unexpected config: %v", cfgBody)
	}
}

func TestConfigMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodPost, ts.URL+"/api/auth/config", "", map[string]any{})
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow: GET, got %q", allow)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	empty := do(t, http.MethodGet, ts.URL+"/api/storage/color", "", nil)
	defer empty.Body.Close() //nolint:errcheck
	emptyBody := decodeBody(t, empty)
	if empty.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", empty.StatusCode)
	}
	if v, ok := emptyBody["value"]; !ok || v != nil {
		t.Fatalf("expected null value for absent key, got %v", emptyBody)
	}

	set := do(t, http.MethodPost, ts.URL+"/api/storage/color", "", map[string]any{"value": "blue"})
	defer set.Body.Close() //nolint:errcheck
	setBody := decodeBody(t, set)
	if set.StatusCode != http.StatusOK || setBody["ok"] != true {
		t.Fatalf("set: unexpected response %d %v", set.StatusCode, setBody)
	}

	get := do(t, http.MethodGet, ts.URL+"/api/storage/color", "", nil)
	defer get.Body.Close() //nolint:errcheck
	getBody := decodeBody(t, get)
	if getBody["key"] != "color" || getBody["value"] != "blue" {
		t.Fatalf("unexpected get body: %v", getBody)
	}
	if _, ok := getBody["updated_at"].(float64); !ok {
		t.Fatalf("expected numeric updated_at, got %v", getBody["updated_at"])
	}
}

func TestStorageRequiresAuth(t *testing.T) {
	ts := newTestServer(t, testConfig{storageAuth: true})

	resp := do(t, http.MethodPost, ts.URL+"/api/storage/color", "", map[string]any{"value": "blue"})
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	token := login(t, ts, adminName, adminPassword)
	ok := do(t, http.MethodPost, ts.URL+"/api/storage/color", token, map[string]any{"value": "blue"})
	defer ok.Body.Close() //nolint:errcheck
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.StatusCode)
	}
}

func TestStorageKeyTooLong(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodPost, ts.URL+"/api/storage/"+strings.Repeat("k", app.MaxKeyLength+1), "", map[string]any{"value": 1})
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	token := login(t, ts, adminName, adminPassword)

	unauth := do(t, http.MethodPost, ts.URL+"/api/sync/upload", "", map[string]any{"fedexOrders": []any{}})
	defer unauth.Body.Close() //nolint:errcheck
	if unauth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous upload: expected 401, got %d", unauth.StatusCode)
	}

	upload := do(t, http.MethodPost, ts.URL+"/api/sync/upload", token, map[string]any{
		"fedexOrders":  []any{map[string]any{"id": 1, "tracking": "794644790132"}},
		"uspsOrders":   []any{},
		"observations": "not a list",
		"mystery":      []any{1},
	})
	defer upload.Body.Close() //nolint:errcheck
	body := decodeBody(t, upload)
	if upload.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("upload: unexpected response %d %v", upload.StatusCode, body)
	}
	report := body["report"].(map[string]any)
	if applied := report["applied"].([]any); len(applied) != 1 || applied[0] != "fedexOrders" {
		t.Fatalf("unexpected applied: %v", applied)
	}
	skipped := report["skipped"].(map[string]any)
	if skipped["uspsOrders"] != app.SkipEmpty || skipped["observations"] != app.SkipNotArray {
		t.Fatalf("unexpected skipped: %v", skipped)
	}
	if ignored := report["ignored"].([]any); len(ignored) != 1 || ignored[0] != "mystery" {
		t.Fatalf("unexpected ignored: %v", ignored)
	}

	data := do(t, http.MethodGet, ts.URL+"/api/sync/data", token, nil)
	defer data.Body.Close() //nolint:errcheck
	export := decodeBody(t, data)
	fedex := export["fedexOrders"].([]any)
	if len(fedex) != 1 || fedex[0].(map[string]any)["tracking"] != "794644790132" {
		t.Fatalf("unexpected fedexOrders export: %v", fedex)
	}
	if _, ok := export["users"]; !ok {
		t.Fatal("admin export must include users")
	}
	if orders, ok := export["retainedOrders"].([]any); !ok || len(orders) != 0 {
		t.Fatalf("untouched collections export as empty lists, got %v", export["retainedOrders"])
	}
}

func TestSyncDataAnonymous(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	token := login(t, ts, adminName, adminPassword)

	upload := do(t, http.MethodPost, ts.URL+"/api/sync/upload", token, map[string]any{
		"fedexOrders": []any{map[string]any{"tracking": "794644790132"}},
	})
	upload.Body.Close() //nolint:errcheck

	resp := do(t, http.MethodGet, ts.URL+"/api/sync/data", "", nil)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	export := decodeBody(t, resp)
	if _, ok := export["users"]; ok {
		t.Fatal("anonymous export must not include users")
	}
	if fedex, ok := export["fedexOrders"].([]any); !ok || len(fedex) != 1 {
		t.Fatalf("unexpected fedexOrders export: %v", export["fedexOrders"])
	}

	bad := do(t, http.MethodGet, ts.URL+"/api/sync/data", "not-a-token", nil)
	defer bad.Body.Close() //nolint:errcheck
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token: expected 401, got %d", bad.StatusCode)
	}
}

func TestUsersListUploadKeepsLogins(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	admin := login(t, ts, adminName, adminPassword)

	list := do(t, http.MethodGet, ts.URL+"/api/users", admin, nil)
	defer list.Body.Close() //nolint:errcheck
	var users []map[string]any
	if err := json.NewDecoder(list.Body).Decode(&users); err != nil {
		t.Fatal(err)
	}
	users = append(users, map[string]any{"username": "Maria", "password": "secret", "role": "user"})

	upload := do(t, http.MethodPost, ts.URL+"/api/sync/upload", admin, map[string]any{"users": users})
	defer upload.Body.Close() //nolint:errcheck
	body := decodeBody(t, upload)
	if upload.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d; body: %v", upload.StatusCode, body)
	}
	if applied := body["report"].(map[string]any)["applied"].([]any); len(applied) != 1 || applied[0] != "users" {
		t.Fatalf("unexpected applied: %v", applied)
	}

	login(t, ts, adminName, adminPassword)
	login(t, ts, "maria", "secret")

	export := do(t, http.MethodGet, ts.URL+"/api/sync/data", admin, nil)
	defer export.Body.Close() //nolint:errcheck
	for _, u := range decodeBody(t, export)["users"].([]any) {
		if pw, _ := u.(map[string]any)["password"].(string); pw == "secret" {
			t.Fatal("uploaded plaintext password stored as-is")
		}
	}
}

func TestUsersUploadDuplicateUsername(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	admin := login(t, ts, adminName, adminPassword)

	upload := do(t, http.MethodPost, ts.URL+"/api/sync/upload", admin, map[string]any{
		"users": []any{
			map[string]any{"id": app.SeedAdminID, "username": adminName, "role": "admin"},
			map[string]any{"username": "joe", "password": "a", "role": "user"},
			map[string]any{"username": "JOE", "password": "b", "role": "user"},
		},
	})
	defer upload.Body.Close() //nolint:errcheck
	body := decodeBody(t, upload)
	if upload.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d; body: %v", upload.StatusCode, body)
	}
	skipped := body["report"].(map[string]any)["skipped"].(map[string]any)
	if skipped["users"] != app.SkipDuplicateUsername {
		t.Fatalf("expected users skipped as %q, got %v", app.SkipDuplicateUsername, skipped)
	}

	resp := do(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"username": "joe", "password": "a"})
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("skipped upload must not create users, got %d", resp.StatusCode)
	}
}

func TestUnrepresentableNumberRejected(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodPost, ts.URL+"/api/storage/n", "", `{"value":1e400}`)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSyncUploadRejectsNonObject(t *testing.T) {
	ts := newTestServer(t, testConfig{})
	token := login(t, ts, adminName, adminPassword)

	resp := do(t, http.MethodPost, ts.URL+"/api/sync/upload", token, "[1,2]")
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, testConfig{origins: []string{"https://app.example.com"}})

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/auth/login", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	ok := preflight("https://app.example.com")
	defer ok.Body.Close() //nolint:errcheck
	if ok.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", ok.StatusCode)
	}
	if got := ok.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if !strings.Contains(ok.Header.Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("Authorization must be an allowed header, got %q", ok.Header.Get("Access-Control-Allow-Headers"))
	}

	denied := preflight("https://evil.example.com")
	defer denied.Body.Close() //nolint:errcheck
	if denied.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", denied.StatusCode)
	}
	if got := denied.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("denied origin must not be echoed, got %q", got)
	}
}

func TestSSODisabled(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	for _, path := range []string{"/api/auth/sso/login", "/api/auth/sso/callback"} {
		resp := do(t, http.MethodGet, ts.URL+path, "", nil)
		resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	resp := do(t, http.MethodGet, ts.URL+"/api/nope", "", nil)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["code"] != "not_found" {
		t.Fatalf("expected code not_found, got %v", body["code"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig{})

	set := do(t, http.MethodPost, ts.URL+"/api/storage/color", "", map[string]any{"value": "blue"})
	set.Body.Close() //nolint:errcheck

	resp := do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for _, want := range []string{
		`shipping_http_requests_total{method="POST",route="/api/storage/{key}",status="200"} 1`,
		`shipping_store_mutations_total{type="storage_update"} 1`,
		"shipping_ws_subscribers 0",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
