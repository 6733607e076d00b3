package serv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/auth"
	"github.com/querygate/querygate/request"
	"github.com/querygate/querygate/sanitize"
)

const apiTestConfig = `
app_name: test
log_format: json

auth:
  development: true

instances:
  - id: pg-main
    name: Main Postgres
    kind: postgres
    connection_string: postgres://app:secret@db:5432/app
    schema: public
`

func newTestService(t *testing.T) (*Service, http.Handler) {
	t.Helper()

	conf, err := NewConfig(apiTestConfig, "yaml")
	require.NoError(t, err)

	s, err := NewService(context.Background(), conf)
	require.NoError(t, err)

	h, err := s.routesHandler(chi.NewRouter())
	require.NoError(t, err)
	return s, h
}

func asUser(req *http.Request, id string, role auth.Role, pods ...string) *http.Request {
	req.Header.Set(auth.HeaderUserID, id)
	req.Header.Set(auth.HeaderEmail, id+"@example.com")
	req.Header.Set(auth.HeaderRole, string(role))
	if len(pods) > 0 {
		req.Header.Set(auth.HeaderPods, strings.Join(pods, ","))
	}
	return req
}

func submitBodyJSON(query string) *bytes.Buffer {
	b, _ := json.Marshal(submitBody{
		DatabaseKind: "relational",
		InstanceID:   "pg-main",
		DatabaseName: "app",
		Query:        query,
		PodID:        "pod-a",
		PodName:      "Payments",
	})
	return bytes.NewBuffer(b)
}

func TestAPI_SubmitAndGet(t *testing.T) {
	_, h := newTestService(t)

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", submitBodyJSON("SELECT 1")),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created request.QueryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, request.StatusPending, created.Status)
	assert.NotEmpty(t, created.ID)

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+created.ID, nil),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// another developer cannot see it
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+created.ID, nil),
		"dev2", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_SubmitValidation(t *testing.T) {
	_, h := newTestService(t)

	// missing auth headers
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/requests", submitBodyJSON("SELECT 1")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// bad database kind
	body, _ := json.Marshal(submitBody{DatabaseKind: "graph", InstanceID: "pg-main", Query: "SELECT 1"})
	rec = httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBuffer(body)),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown instance
	body, _ = json.Marshal(submitBody{DatabaseKind: "relational", InstanceID: "nope", Query: "SELECT 1", PodID: "pod-a"})
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBuffer(body)),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// denylisted operator on a document submission is a hard block
	body, _ = json.Marshal(submitBody{
		DatabaseKind:   "document",
		InstanceID:     "pg-main",
		ScriptFileName: "fix.js",
		ScriptContent:  "db.users.find({$where: 'true'})",
		PodID:          "pod-a",
	})
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBuffer(body)),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// query and script together is construction-time validation
	body, _ = json.Marshal(submitBody{
		DatabaseKind:   "relational",
		InstanceID:     "pg-main",
		Query:          "SELECT 1",
		ScriptFileName: "fix.js",
		ScriptContent:  "print(1)",
		PodID:          "pod-a",
	})
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBuffer(body)),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitErrStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("resolve: %w", request.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad payload", request.ErrInvalidSubmission), http.StatusBadRequest},
		{sanitize.ErrDangerousOperator, http.StatusBadRequest},
		{sanitize.ErrInvalidFileName, http.StatusBadRequest},
		// store write failures are the server's problem, not the client's
		{errors.New("pgstore: create: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, submitErrStatus(tc.err), "err=%v", tc.err)
	}
}

func TestAPI_RejectAndWithdraw(t *testing.T) {
	_, h := newTestService(t)

	submit := func() string {
		rec := httptest.NewRecorder()
		req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", submitBodyJSON("SELECT 1")),
			"dev1", auth.RoleDeveloper)
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created request.QueryRequest
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		return created.ID
	}

	// manager of the pod rejects with a reason
	id := submit()
	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+id+"/reject",
		bytes.NewBufferString(`{"reason":"needs a LIMIT clause"}`)),
		"mgr1", auth.RoleManager, "pod-a")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rejected request.QueryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejected))
	assert.Equal(t, request.StatusRejected, rejected.Status)
	assert.Equal(t, "needs a LIMIT clause", rejected.RejectionReason)

	// rejecting again conflicts
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+id+"/reject",
		bytes.NewBufferString(`{"reason":"again"}`)),
		"mgr1", auth.RoleManager, "pod-a")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// a manager of another pod cannot moderate
	id = submit()
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+id+"/reject",
		bytes.NewBufferString(`{"reason":"no"}`)),
		"mgr2", auth.RoleManager, "pod-z")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// submitter withdraws their own pending request
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+id+"/withdraw", nil),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// clone of the withdrawn request is a fresh pending submission
	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+id+"/clone", nil),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var clone request.QueryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clone))
	assert.Equal(t, request.StatusPending, clone.Status)
	assert.NotEqual(t, id, clone.ID)
}

func TestAPI_ListScopedByRole(t *testing.T) {
	_, h := newTestService(t)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests",
			submitBodyJSON(fmt.Sprintf("SELECT %d", i))), "dev1", auth.RoleDeveloper)
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	list := func(user string, role auth.Role, pods ...string) []request.QueryRequest {
		rec := httptest.NewRecorder()
		req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil), user, role, pods...)
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []request.QueryRequest
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Len(t, list("dev1", auth.RoleDeveloper), 3)
	assert.Empty(t, list("dev2", auth.RoleDeveloper))
	assert.Len(t, list("mgr1", auth.RoleManager, "pod-a"), 3)
	assert.Empty(t, list("mgr2", auth.RoleManager, "pod-z"))
	assert.Len(t, list("root", auth.RoleAdmin), 3)
}

func TestAPI_Instances(t *testing.T) {
	_, h := newTestService(t)

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/instances", nil),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []instanceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "pg-main", out[0].ID)

	// connection strings never appear in the catalog
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestAPI_Health(t *testing.T) {
	_, h := newTestService(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, serverName, rec.Header().Get("Server"))
}

func TestAPI_ScriptStagingDir(t *testing.T) {
	dir := t.TempDir()
	conf, err := NewConfig(fmt.Sprintf(`
app_name: test
log_format: json
auth:
  development: true
instances:
  - id: mongo-events
    name: Events
    kind: mongodb
    connection_string: mongodb://db:27017/events
script:
  command: sh
  dir: %s
`, dir), "yaml")
	require.NoError(t, err)

	s, err := NewService(context.Background(), conf)
	require.NoError(t, err)
	h, err := s.routesHandler(chi.NewRouter())
	require.NoError(t, err)

	// the script prints its own path, which must be under the configured dir
	body, _ := json.Marshal(submitBody{
		DatabaseKind:   "document",
		InstanceID:     "mongo-events",
		DatabaseName:   "events",
		ScriptFileName: "whereami.js",
		ScriptContent:  `echo "$0"`,
		PodID:          "pod-a",
		PodName:        "Payments",
	})
	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBuffer(body)),
		"dev1", auth.RoleDeveloper)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created request.QueryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+created.ID+"/approve", nil),
		"root", auth.RoleAdmin)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var executed request.QueryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executed))
	require.Equal(t, request.StatusExecuted, executed.Status, executed.ExecutionError)
	assert.Contains(t, executed.ExecutionResult, dir)
}

func TestAPI_RateLimiter(t *testing.T) {
	conf, err := NewConfig(apiTestConfig+"\nrate_limiter:\n  rate: 1\n  bucket: 2\n", "yaml")
	require.NoError(t, err)

	s, err := NewService(context.Background(), conf)
	require.NoError(t, err)
	h, err := s.routesHandler(chi.NewRouter())
	require.NoError(t, err)

	var last int
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
