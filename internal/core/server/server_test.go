package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/geo-udf/internal/metrics"
	"github.com/mohammed-shakir/geo-udf/internal/mlstore"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

func newTestServer(t *testing.T) (*httptest.Server, *mlstore.Store) {
	t.Helper()
	store, err := mlstore.New(filepath.Join(t.TempDir(), "models"))
	if err != nil {
		t.Fatalf("mlstore: %v", err)
	}
	p := metrics.Init(metrics.Config{Version: "test"})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader := &mlmodel.Loader{Resolver: store, Cache: mlmodel.NewCache(8)}
	srv := httptest.NewServer(NewHandler(log, Deps{Store: store, Loader: loader, Metrics: p.Handler()}))
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestModelsAPI_Lifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	src := filepath.Join(t.TempDir(), "weights.bin")
	if err := os.WriteFile(src, []byte("weights"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reqBody, _ := json.Marshal(map[string]string{"uri": src})

	resp, body := do(t, http.MethodPost, srv.URL+"/models", string(reqBody))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status=%d body=%s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
	var created struct{ Hash string }
	if err := json.Unmarshal(body, &created); err != nil || !mlstore.ValidHash(created.Hash) {
		t.Fatalf("hash=%q err=%v", created.Hash, err)
	}

	// same bytes again, same hash
	_, body = do(t, http.MethodPost, srv.URL+"/models", string(reqBody))
	var again struct{ Hash string }
	_ = json.Unmarshal(body, &again)
	if again.Hash != created.Hash {
		t.Fatalf("second store hash=%s want %s", again.Hash, created.Hash)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/models", "")
	var list []string
	if err := json.Unmarshal(body, &list); err != nil || len(list) != 1 || list[0] != created.Hash {
		t.Fatalf("list=%s err=%v", body, err)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/models/"+created.Hash, "")
	var info mlstore.Info
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &info) != nil || info.Size != 7 {
		t.Fatalf("info status=%d body=%s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodDelete, srv.URL+"/models/"+created.Hash, "")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte(created.Hash)) {
		t.Fatalf("DELETE status=%d body=%s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodDelete, srv.URL+"/models/"+created.Hash, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second DELETE status=%d", resp.StatusCode)
	}
	var report udferr.Object
	if err := json.Unmarshal(body, &report); err != nil || report.Message == "" {
		t.Fatalf("error body=%s", body)
	}
}

func TestModelsAPI_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []struct {
		method, path, body string
		code               int
	}{
		{http.MethodPost, "/models", `{`, http.StatusBadRequest},
		{http.MethodPost, "/models", `{"uri": ""}`, http.StatusBadRequest},
		{http.MethodPost, "/models", `{"url": "/x"}`, http.StatusBadRequest},
		{http.MethodPost, "/models", `{"uri": "/does/not/exist"}`, http.StatusNotFound},
		{http.MethodGet, "/models/nothex", "", http.StatusNotFound},
		{http.MethodDelete, "/models/nothex", "", http.StatusNotFound},
		{http.MethodGet, "/models/d41d8cd98f00b204e9800998ecf8427e", "", http.StatusNotFound},
	}
	for _, c := range cases {
		resp, body := do(t, c.method, srv.URL+c.path, c.body)
		if resp.StatusCode != c.code {
			t.Fatalf("%s %s %s: status=%d want %d body=%s", c.method, c.path, c.body, resp.StatusCode, c.code, body)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp, body := do(t, http.MethodGet, srv.URL+"/healthz", ""); resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz=%d %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz=%d", resp.StatusCode)
	}
	do(t, http.MethodGet, srv.URL+"/models/d41d8cd98f00b204e9800998ecf8427e", "")

	_, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	want := `http_requests_total{method="GET",route="/models/{hash}",status="404"}`
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected %s in metrics:\n%s", want, body)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	store, _ := mlstore.New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{Store: store})
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestModelsAPI_LoadCheck(t *testing.T) {
	srv, store := newTestServer(t)
	b, err := mlmodel.EncodeObjectGraph(&mlmodel.LinearModel{Coef: []float64{1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	src := filepath.Join(t.TempDir(), "lin.cbor")
	if err := os.WriteFile(src, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	hash, err := store.Store(context.Background(), src)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/models/"+hash+"/model?framework=SKLearn", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load status=%d body=%s", resp.StatusCode, body)
	}
	var got struct {
		Framework string
		Predictor bool
		Forwarder bool
	}
	if err := json.Unmarshal(body, &got); err != nil || got.Framework != "sklearn" || !got.Predictor || got.Forwarder {
		t.Fatalf("body=%s err=%v", body, err)
	}

	if resp, _ := do(t, http.MethodGet, srv.URL+"/models/"+hash+"/model?framework=py", ""); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown framework status=%d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/models/d41d8cd98f00b204e9800998ecf8427e/model?framework=sklearn", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing model status=%d", resp.StatusCode)
	}
}
