package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/store/memory"
	"gatehouse.org/internal/stream"
	"gatehouse.org/internal/upload"
)

const userPassword = "Secr3t!pass"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
	hub     *stream.Hub
}

type envelope struct {
	Success    bool              `json:"success"`
	Status     string            `json:"status"`
	StatusCode int               `json:"statusCode"`
	Data       json.RawMessage   `json:"data"`
	Message    string            `json:"message"`
	Path       string            `json:"path"`
	RequestID  string            `json:"requestId"`
	Errors     []auth.FieldError `json:"errors"`
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	st := memory.New()
	tokens, err := auth.NewTokenManager(st, "test-secret")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	hub := stream.NewHub()
	svc, err := admin.New(st, tokens, admin.WithNotifier(hub))
	if err != nil {
		t.Fatalf("admin.New: %v", err)
	}
	uploads, err := upload.NewStorage(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if _, err := admin.EnsureAdmin(context.Background(), st, admin.DefaultAdminUsername, admin.DefaultAdminPassword); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}

	api, err := New(Options{
		Admin:         svc,
		Uploads:       uploads,
		Hub:           hub,
		Version:       "test",
		RateBurst:     1000,
		RatePerSecond: 1000,
		UploadMaxBody: 2 << 20,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t, store: st, hub: hub}
}

func (c *apiClient) do(method, path, token string, body any) (*http.Response, envelope) {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req)
}

func (c *apiClient) send(req *http.Request) (*http.Response, envelope) {
	c.t.Helper()
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			c.t.Fatalf("decode %s %s: %v (%s)", req.Method, req.URL.Path, err, raw)
		}
	}
	return resp, env
}

func (c *apiClient) expect(method, path, token string, body any, want int) envelope {
	c.t.Helper()
	resp, env := c.do(method, path, token, body)
	if resp.StatusCode != want {
		c.t.Fatalf("%s %s: status %d, want %d (message %q)", method, path, resp.StatusCode, want, env.Message)
	}
	return env
}

func (c *apiClient) login(username, password string) string {
	c.t.Helper()
	env := c.expect(http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": password}, http.StatusOK)
	var sess struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	decodeData(c.t, env, &sess)
	if sess.Token == "" || sess.ExpiresIn <= 0 {
		c.t.Fatalf("bad session: %+v", sess)
	}
	return sess.Token
}

// activeUser registers username and activates it as admin.
func (c *apiClient) activeUser(adminToken, username string) (string, string) {
	c.t.Helper()
	env := c.expect(http.MethodPost, "/auth/register", "", map[string]string{"username": username, "password": userPassword}, http.StatusCreated)
	var u auth.User
	decodeData(c.t, env, &u)
	c.expect(http.MethodPatch, "/user/active", adminToken, map[string]any{"id": u.ID, "active": true}, http.StatusOK)
	return u.ID, c.login(username, userPassword)
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz: %d %v", resp.StatusCode, body)
	}

	resp, err = c.client.Get(c.baseURL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	c := newTestAPI(t)

	env := c.expect(http.MethodPost, "/auth/register", "", map[string]string{"username": "Alice", "password": "weak"}, http.StatusBadRequest)
	if env.Success || env.Status != "error" || env.StatusCode != http.StatusBadRequest || len(env.Errors) != 1 || env.Errors[0].Field != "password" {
		t.Fatalf("unexpected validation envelope: %+v", env)
	}
	if env.Path != "/auth/register" || env.RequestID == "" {
		t.Fatalf("envelope missing path or request id: %+v", env)
	}

	env = c.expect(http.MethodPost, "/auth/register", "", map[string]string{"username": "Alice", "password": userPassword}, http.StatusCreated)
	var u auth.User
	decodeData(t, env, &u)
	if !env.Success || u.Username != "alice" || u.Active {
		t.Fatalf("unexpected registered user: %+v", u)
	}

	env = c.expect(http.MethodPost, "/auth/register", "", map[string]string{"username": "alice", "password": userPassword}, http.StatusBadRequest)
	if env.Message != "User already exists" {
		t.Fatalf("duplicate message = %q", env.Message)
	}

	env = c.expect(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": userPassword}, http.StatusBadRequest)
	if env.Message != "User not active" {
		t.Fatalf("inactive login message = %q", env.Message)
	}

	resp, _ := c.do(http.MethodPost, "/auth/login", "", map[string]string{"username": admin.DefaultAdminUsername, "password": admin.DefaultAdminPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login status %d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "access-token" {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("session cookie not set correctly: %+v", cookie)
	}

	// the cookie alone authenticates
	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/user/me", nil)
	req.AddCookie(cookie)
	_, env = c.send(req)
	var me auth.User
	decodeData(t, env, &me)
	if me.Username != admin.DefaultAdminUsername {
		t.Fatalf("me = %+v", me)
	}
}

func TestGuardAndPermissions(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)

	env := c.expect(http.MethodGet, "/user", "", nil, http.StatusUnauthorized)
	if env.Message != auth.ErrTokenMissing.Reason {
		t.Fatalf("missing token message = %q", env.Message)
	}
	env = c.expect(http.MethodGet, "/user", "garbage", nil, http.StatusUnauthorized)
	if env.Message != auth.ErrTokenInvalid.Reason {
		t.Fatalf("bad token message = %q", env.Message)
	}

	aliceID, aliceToken := c.activeUser(adminToken, "alice")
	env = c.expect(http.MethodGet, "/user", aliceToken, nil, http.StatusForbidden)
	if env.Message != "Forbidden resource" {
		t.Fatalf("forbidden message = %q", env.Message)
	}

	c.expect(http.MethodPatch, "/user/permission", adminToken, map[string]any{
		"id":          aliceID,
		"permissions": []map[string]any{{"subject": "USER", "action": "USER_LISTING"}},
	}, http.StatusOK)

	// granting permissions ends the old session
	env = c.expect(http.MethodGet, "/user/me", aliceToken, nil, http.StatusOK)
	if string(env.Data) != "null" {
		t.Fatalf("revoked token still resolves: %s", env.Data)
	}
	c.expect(http.MethodGet, "/user", aliceToken, nil, http.StatusUnauthorized)

	aliceToken = c.login("alice", userPassword)
	env = c.expect(http.MethodGet, "/user?limit=1&order=ASC", aliceToken, nil, http.StatusOK)
	var page admin.Page[auth.User]
	decodeData(t, env, &page)
	if page.Total != 2 || len(page.Data) != 1 || page.Limit != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	c.expect(http.MethodGet, "/user?order=sideways", aliceToken, nil, http.StatusBadRequest)
	c.expect(http.MethodGet, "/user/alice", aliceToken, nil, http.StatusOK)
	env = c.expect(http.MethodGet, "/user/nobody", aliceToken, nil, http.StatusNotFound)
	if env.Message != "User not found" {
		t.Fatalf("not found message = %q", env.Message)
	}
	c.expect(http.MethodDelete, "/user/"+aliceID, aliceToken, nil, http.StatusForbidden)
	c.expect(http.MethodGet, "/permission", aliceToken, nil, http.StatusOK)
}

func TestLogoutRevokesToken(t *testing.T) {
	c := newTestAPI(t)
	token := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)
	other := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)

	resp, env := c.do(http.MethodGet, "/auth/logout", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	var cleared bool
	for _, ck := range resp.Cookies() {
		if ck.Name == "access-token" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("logout did not clear cookie")
	}
	var msg map[string]string
	decodeData(t, env, &msg)
	if msg["message"] != "Logout successfully" {
		t.Fatalf("logout message = %v", msg)
	}

	c.expect(http.MethodGet, "/user", token, nil, http.StatusUnauthorized)
	c.expect(http.MethodGet, "/user", other, nil, http.StatusOK)

	// unknown tokens are a no-op
	c.expect(http.MethodGet, "/auth/logout?token=unknown", "", nil, http.StatusOK)
}

func TestChangePasswordEndsSessions(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)
	_, aliceToken := c.activeUser(adminToken, "alice")

	env := c.expect(http.MethodPatch, "/user/change-password", aliceToken, map[string]string{"oldPassword": "wrong", "password": "N3w!passw"}, http.StatusBadRequest)
	if env.Message != "Old password is incorrect" {
		t.Fatalf("message = %q", env.Message)
	}
	c.expect(http.MethodPatch, "/user/change-password", aliceToken, map[string]string{"oldPassword": userPassword, "password": "N3w!passw"}, http.StatusOK)
	c.expect(http.MethodGet, "/user/menu", aliceToken, nil, http.StatusOK)
	c.expect(http.MethodPatch, "/user/profile", aliceToken, map[string]string{"fullname": "Alice"}, http.StatusUnauthorized)
	c.login("alice", "N3w!passw")
}

func TestRolesAndDepartments(t *testing.T) {
	c := newTestAPI(t)
	token := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)

	env := c.expect(http.MethodPost, "/role", token, map[string]any{
		"name":        "auditor",
		"permissions": []map[string]any{{"subject": "HISTORY", "action": "LISTING"}},
	}, http.StatusCreated)
	var role auth.Role
	decodeData(t, env, &role)
	if role.ID == "" || len(role.Permissions) != 1 {
		t.Fatalf("unexpected role: %+v", role)
	}
	c.expect(http.MethodPost, "/role", token, map[string]any{"name": "auditor"}, http.StatusBadRequest)
	c.expect(http.MethodPost, "/role", token, map[string]any{
		"name":        "bogus",
		"permissions": []map[string]any{{"subject": "USER", "action": "CREATE"}},
	}, http.StatusBadRequest)
	c.expect(http.MethodPut, "/role", token, map[string]any{"id": role.ID, "name": "auditors"}, http.StatusOK)
	c.expect(http.MethodGet, "/role/auditors", token, nil, http.StatusOK)

	env = c.expect(http.MethodPost, "/department", token, map[string]any{"name": "Engineering"}, http.StatusCreated)
	var eng auth.Department
	decodeData(t, env, &eng)
	c.expect(http.MethodPost, "/department", token, map[string]any{"name": "Backend", "parentId": eng.ID}, http.StatusCreated)
	env = c.expect(http.MethodPost, "/department", token, map[string]any{"name": "Orphan", "parentId": "missing"}, http.StatusBadRequest)
	if env.Message != "Parent department does not exist" {
		t.Fatalf("message = %q", env.Message)
	}

	env = c.expect(http.MethodGet, "/department/tree", token, nil, http.StatusOK)
	var tree []auth.Department
	decodeData(t, env, &tree)
	if len(tree) != 1 || tree[0].Name != "Engineering" || len(tree[0].Children) != 1 || tree[0].Children[0].Name != "Backend" {
		t.Fatalf("unexpected tree: %+v", tree)
	}

	c.expect(http.MethodPatch, "/department", token, map[string]any{"id": eng.ID, "name": "Engineering", "parentId": tree[0].Children[0].ID}, http.StatusBadRequest)
	c.expect(http.MethodDelete, "/role/"+role.ID, token, nil, http.StatusOK)
	c.expect(http.MethodGet, "/role/"+role.ID, token, nil, http.StatusNotFound)

	env = c.expect(http.MethodGet, "/history?subject=role", token, nil, http.StatusOK)
	var hist admin.Page[auth.History]
	decodeData(t, env, &hist)
	if hist.Total < 3 {
		t.Fatalf("expected role history, got %+v", hist)
	}
	for _, h := range hist.Data {
		if h.Subject != string(auth.SubjectRole) {
			t.Fatalf("history filter leaked %s", h.Subject)
		}
	}
}

func TestUploadRoundTrip(t *testing.T) {
	c := newTestAPI(t)
	token := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("hello upload"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, c.baseURL+"/upload/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, env := c.send(req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", resp.StatusCode, env.Message)
	}
	var info upload.FileInfo
	decodeData(t, env, &info)
	if !strings.HasPrefix(info.Name, "report-") || !strings.HasSuffix(info.Name, ".txt") || info.Size != 12 {
		t.Fatalf("unexpected file info: %+v", info)
	}

	env = c.expect(http.MethodGet, "/upload/file", token, nil, http.StatusOK)
	var files []string
	decodeData(t, env, &files)
	if len(files) != 1 || files[0] != "/"+info.Name {
		t.Fatalf("files = %v", files)
	}

	req, _ = http.NewRequest(http.MethodGet, c.baseURL+"/upload/file/"+info.Name, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	raw, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer raw.Body.Close()
	content, _ := io.ReadAll(raw.Body)
	if raw.StatusCode != http.StatusOK || string(content) != "hello upload" {
		t.Fatalf("download %d %q", raw.StatusCode, content)
	}

	c.expect(http.MethodGet, "/upload/file/missing.txt", token, nil, http.StatusNotFound)
	c.expect(http.MethodPost, "/upload/file", token, map[string]string{"file": "x"}, http.StatusBadRequest)
}

func TestNotificationStream(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.login(admin.DefaultAdminUsername, admin.DefaultAdminPassword)
	aliceID, aliceToken := c.activeUser(adminToken, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/notifications/stream?token="+aliceToken, nil)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("stream status %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, ": stream started") {
		t.Fatalf("first line %q: %v", first, err)
	}

	c.expect(http.MethodPatch, "/user/active", adminToken, map[string]any{"id": aliceID, "active": false}, http.StatusOK)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if evt.Type != stream.EventSessionsRevoked || evt.UserID != aliceID {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	c := newTestAPI(t)
	env := c.expect(http.MethodGet, "/nope", "", nil, http.StatusNotFound)
	if env.Success || env.Message != "Cannot GET /nope" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
