package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpHarness struct {
	env     *testEnv
	handler http.Handler
}

func newHTTPHarness(t *testing.T) *httpHarness {
	t.Helper()
	env := newTestEnv(t)
	return &httpHarness{env: env, handler: NewHTTPServer(env.svc, "*", nil).Handler()}
}

func (h *httpHarness) token(t *testing.T, id Identity) string {
	t.Helper()
	token, err := h.env.svc.auth.IssueToken(h.env.mustUser(t, id.UserID))
	require.NoError(t, err)
	return token
}

func (h *httpHarness) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

func TestHealth(t *testing.T) {
	h := newHTTPHarness(t)

	rec, payload := h.do(t, http.MethodGet, "/api/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["ok"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReady(t *testing.T) {
	h := newHTTPHarness(t)

	rec, payload := h.do(t, http.MethodGet, "/api/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", payload["status"])

	h.env.store.pingErr = errors.New("connection refused")
	rec, payload = h.do(t, http.MethodGet, "/api/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", payload["status"])
	checks := payload["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	assert.Equal(t, "connection refused", database["error"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHTTPHarness(t)

	rec, payload := h.do(t, http.MethodGet, "/api/projects", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, payload["code"])
	assert.Equal(t, "Authentication failed!", payload["error"])

	rec, payload = h.do(t, http.MethodGet, "/api/projects", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, payload["code"])
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := newHTTPHarness(t)

	rec, payload := h.do(t, http.MethodGet, "/nowhere", "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, payload["code"])
}

func TestCreateAndFetchProject(t *testing.T) {
	h := newHTTPHarness(t)
	alice := h.env.user(t, "u-alice", "Alice")
	token := h.token(t, alice)

	rec, payload := h.do(t, http.MethodPost, "/api/projects", token, `{"projectName":"Garden","description":"Beds"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := payload["project"].(map[string]any)
	assert.Equal(t, "Garden", project["projectName"])
	assert.Equal(t, alice.UserID, project["creator"])

	projectID := project["id"].(string)
	rec, payload = h.do(t, http.MethodGet, "/api/projects/"+projectID, token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, projectID, payload["project"].(map[string]any)["id"])

	rec, payload = h.do(t, http.MethodGet, "/api/projects", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, payload["projects"], 1)
}

func TestCreateProjectRejectsMalformedBody(t *testing.T) {
	h := newHTTPHarness(t)
	alice := h.env.user(t, "u-alice", "Alice")

	rec, payload := h.do(t, http.MethodPost, "/api/projects", h.token(t, alice), `{"projectName":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidBody, payload["code"])
}

func TestMissingProjectIsNotFound(t *testing.T) {
	h := newHTTPHarness(t)
	alice := h.env.user(t, "u-alice", "Alice")

	rec, payload := h.do(t, http.MethodGet, "/api/projects/prj-missing", h.token(t, alice), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, payload["code"])
}

func TestGuestCannotCreateTaskOverHTTP(t *testing.T) {
	h := newHTTPHarness(t)
	alice := h.env.user(t, "u-alice", "Alice")
	bob := h.env.user(t, "u-bob", "Bob")
	project := h.env.project(t, alice, "Garden")
	h.env.share(t, project.ID, bob, "guest")

	rec, payload := h.do(t, http.MethodPost, "/api/projects/"+project.ID+"/tasks", h.token(t, bob), `{"name":"Weed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, payload["code"])

	rec, payload = h.do(t, http.MethodPost, "/api/projects/"+project.ID+"/comments", h.token(t, bob), `{"text":"Looks good"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, payload["comments"], 1)
}

func TestSignUpAndMeOverHTTP(t *testing.T) {
	h := newHTTPHarness(t)

	rec, payload := h.do(t, http.MethodPost, "/api/users/signup", "", `{"email":"ada@example.test","password":"secret1","name":"Ada"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token := payload["token"].(string)

	rec, payload = h.do(t, http.MethodGet, "/api/users/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := payload["user"].(map[string]any)
	assert.Equal(t, "ada@example.test", user["email"])
	assert.NotContains(t, user, "passwordHash")

	rec, payload = h.do(t, http.MethodPost, "/api/users/login", "", `{"email":"ada@example.test","password":"nope-nope"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, payload["code"])
}

func TestValidationErrorCarriesDetails(t *testing.T) {
	h := newHTTPHarness(t)

	rec, payload := h.do(t, http.MethodPost, "/api/users/signup", "", `{"email":"ada@example.test","password":"1","name":"Ada"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeValidation, payload["code"])
	assert.Contains(t, payload["details"], "password")
}

func TestOversizedBodyIsRejected(t *testing.T) {
	h := newHTTPHarness(t)
	alice := h.env.user(t, "u-alice", "Alice")
	body := `{"projectName":"` + strings.Repeat("x", 26<<20) + `"}`

	rec, payload := h.do(t, http.MethodPost, "/api/projects", h.token(t, alice), body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", payload["code"])
	assert.Empty(t, h.env.store.projects)
}

func TestSearchLimitIsBounded(t *testing.T) {
	h := newHTTPHarness(t)
	alice := h.env.user(t, "u-alice", "Alice")
	token := h.token(t, alice)

	rec, payload := h.do(t, http.MethodGet, "/api/search?q=garden&limit=100000", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeValidation, payload["code"])

	rec, _ = h.do(t, http.MethodGet, "/api/search?q=garden&limit=50", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
