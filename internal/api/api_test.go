package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skywalker-88/dynaproxy/internal/store"
)

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

const testToken = "secret-token"

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	h := New(st, testToken)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, st
}

func doReq(t *testing.T, ts *httptest.Server, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestAPI_AddGetDelete(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doReq(t, ts, http.MethodPut, "/api/routes/%2Fhello", testToken, `{"target":"http://127.0.0.1:9002"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	resp = doReq(t, ts, http.MethodGet, "/api/routes", testToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET all status = %d", resp.StatusCode)
	}

	resp = doReq(t, ts, http.MethodDelete, "/api/routes/%2Fhello", testToken, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}

	resp = doReq(t, ts, http.MethodGet, "/api/routes/%2Fhello", testToken, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d", resp.StatusCode)
	}
}

func TestAPI_AuthFailure(t *testing.T) {
	ts, st := newTestServer(t)

	resp := doReq(t, ts, http.MethodPost, "/api/routes/%2Fx", "", `{"target":"http://a"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	all, err := st.GetAll(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("store must be unchanged after auth failure, got %+v", all)
	}
}

func TestAPI_MissingTargetRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doReq(t, ts, http.MethodPost, "/api/routes/%2Fx", testToken, `{"data":{"a":1}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_InactiveSinceFilter(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := t.Context()

	t1 := time.Now().Add(-3 * time.Hour).UTC()
	t2 := time.Now().Add(-2 * time.Hour).UTC()
	t3 := time.Now().Add(-1 * time.Hour).UTC()

	if err := st.Add(ctx, "/a", store.Record{Target: "http://a", LastActivity: t1}); err != nil {
		t.Fatal(err)
	}
	if err := st.Add(ctx, "/b", store.Record{Target: "http://b", LastActivity: t2}); err != nil {
		t.Fatal(err)
	}
	if err := st.Add(ctx, "/c", store.Record{Target: "http://c", LastActivity: t3}); err != nil {
		t.Fatal(err)
	}

	resp := doReq(t, ts, http.MethodGet, "/api/routes?inactive_since="+t2.Format(time.RFC3339), testToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]map[string]any
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("want exactly the route older than t2, got %+v", out)
	}
	if _, ok := out["/a"]; !ok {
		t.Fatalf("want /a in result, got %+v", out)
	}
}
