package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/reconcile"
	"github.com/meridianerp/entitlements/pkg/resolve"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	reg := rights.NewRegistry(false, observability.NopLogger())
	reg.MustRegister(rights.NewBase("core.login", "core",
		[]rights.Value{rights.ValueFalse, rights.ValueTrue}, nil))
	reg.MustRegister(rights.NewGroupGated("finance.reports", "finance",
		[]rights.Value{rights.ValueFalse, rights.ValueReadOnly, rights.ValueReadWrite},
		[]string{"Finance"}, nil))

	ms := store.NewMemoryStore()
	ms.PutUser("acme", store.User{ID: 1, DisplayName: "Alice"})
	ms.PutUser("acme", store.User{ID: 2, DisplayName: "Bob"})
	ms.PutGroup("acme", store.Group{ID: 10, Name: "Finance", MemberIDs: []int64{1}})
	ms.PutGroup("acme", store.Group{ID: 11, Name: "Administrators", MemberIDs: []int64{2}})

	caches := membership.NewTenantCaches(membership.CacheOptions{
		Repos:    ms.Repositories(),
		Registry: reg,
		Logger:   observability.NopLogger(),
	})
	resolver := resolve.New(resolve.Options{Registry: reg, Caches: caches, Logger: observability.NopLogger()})
	reconciler := reconcile.New(reconcile.Options{
		Assignments: ms,
		Registry:    reg,
		Caches:      caches,
		Logger:      observability.NopLogger(),
	})

	return NewServer(Options{
		Registry:   reg,
		Caches:     caches,
		Resolver:   resolver,
		Reconciler: reconciler,
		Logger:     observability.NopLogger(),
	}), ms
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(TenantHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMissingTenantHeader(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/1/groups", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/rights", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestListRights(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/rights", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []rightInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, rights.ID("core.login"), out[0].ID)
	assert.Equal(t, rights.ID("finance.reports"), out[1].ID)
	assert.Contains(t, out[1].Values, "READWRITE")
}

func TestUserGroups(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/users/1/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		UserID   int64   `json:"user_id"`
		GroupIDs []int64 `json:"group_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []int64{10}, out.GroupIDs)
}

func TestGroupMembership(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/users/1/groups/10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"member":true`)

	rec = doRequest(t, s, http.MethodGet, "/v1/users/2/groups/10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"member":false`)
}

func TestSpecialMembership(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/users/2/special/admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"member":true`)

	rec = doRequest(t, s, http.MethodGet, "/v1/users/1/special/admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"member":false`)

	rec = doRequest(t, s, http.MethodGet, "/v1/users/1/special/wizards", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveOne(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/users/1/rights/finance.reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res resolve.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Available)
	assert.True(t, res.Configurable)
	assert.Equal(t, resolve.SourceDefault, res.Source)
}

func TestResolveUnknownRight(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/users/1/rights/no.such.right", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveAll(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/users/2/rights", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []resolve.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].Available, "core.login is available to everyone")
	assert.False(t, out[1].Available, "finance.reports is gated away from Bob")
}

func TestReconcileEndpoint(t *testing.T) {
	s, ms := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"assignments": []map[string]string{
			{"right_id": "finance.reports", "value": "READONLY"},
		},
	})
	rec := doRequest(t, s, http.MethodPut, "/v1/users/1/assignments", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res reconcile.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Created)

	rows, err := ms.ListUserAssignments(context.Background(), "acme", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// The write must be visible on the next read without waiting for the TTL.
	rec = doRequest(t, s, http.MethodGet, "/v1/users/1/rights/finance.reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolution resolve.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolution))
	assert.Equal(t, resolve.SourceStored, resolution.Source)
	assert.Equal(t, rights.ValueReadOnly, resolution.Effective)
}

func TestReconcileRejectsBadValue(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"assignments": []map[string]string{
			{"right_id": "finance.reports", "value": "SOMETIMES"},
		},
	})
	rec := doRequest(t, s, http.MethodPut, "/v1/users/1/assignments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileRejectsUnknownRight(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"assignments": []map[string]string{
			{"right_id": "no.such.right", "value": "TRUE"},
		},
	})
	rec := doRequest(t, s, http.MethodPut, "/v1/users/1/assignments", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInvalidateAndRefresh(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/cache/invalidate", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/cache/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"users":2`)
}
