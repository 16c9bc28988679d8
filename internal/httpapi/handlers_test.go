package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	api := New(ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if resp.Header.Get("Content-Type") == "application/json; charset=utf-8" {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	code, body := getJSON(t, srv.URL+"/healthz")
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d", code)
	}
	if body["status"] != "ok" || body["service"] != "authforge-api" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyWithoutDB(t *testing.T) {
	srv := newTestServer(t)

	code, body := getJSON(t, srv.URL+"/readyz")
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d", code)
	}
	if body["status"] != "ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestInfo(t *testing.T) {
	srv := newTestServer(t)

	code, body := getJSON(t, srv.URL+"/v1/info")
	if code != http.StatusOK {
		t.Fatalf("unexpected status: %d", code)
	}
	if body["name"] != "authforge-api" || body["time"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t)

	code, _ := getJSON(t, srv.URL+"/nope")
	if code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", code)
	}
}
