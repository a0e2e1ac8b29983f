package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseranet/tessera/internal/api"
	"github.com/tesseranet/tessera/internal/domain"
	"github.com/tesseranet/tessera/internal/ledger"
	"github.com/tesseranet/tessera/internal/store"
	"github.com/tesseranet/tessera/internal/token"
	"github.com/tesseranet/tessera/internal/ws"
)

func newTestAPI(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens := token.NewStore(30 * time.Second)
	t.Cleanup(tokens.Close)

	auth := ws.AuthenticatorFunc(func(address, secret string) bool {
		return secret != "" && domain.AddressFromSecret(secret) == address
	})
	reg := ws.NewRegistry(tokens, auth, logger)
	bc := ws.NewBroadcaster(reg, time.Minute, logger)
	hub := ws.NewHub(reg, bc, "test motd", logger)

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, bc, &ledger.LogNotifier{Logger: logger}, logger, 500, "name")

	h := api.NewHandler(engine, tokens, hub, ledger.StaticWork(12345), auth, "ws://example.test", logger)
	r := mux.NewRouter()
	h.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mem
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestStartSessionGuest(t *testing.T) {
	srv, _ := newTestAPI(t)

	code, body := postJSON(t, srv.URL+"/ws/start", map[string]any{})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(30), body["expires"])
	assert.Contains(t, body["url"], "ws://example.test/ws/gateway/")
}

func TestStartSessionAuthenticated(t *testing.T) {
	srv, _ := newTestAPI(t)

	code, body := postJSON(t, srv.URL+"/ws/start", map[string]any{"privatekey": "hunter2"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
}

func TestGetWork(t *testing.T) {
	srv, _ := newTestAPI(t)

	code, body := getJSON(t, srv.URL+"/work")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(12345), body["work"])
}

func TestCreateTransfer(t *testing.T) {
	srv, mem := newTestAPI(t)
	from := domain.AddressFromSecret("hunter2")
	mem.SeedAccount(from, 100)

	code, body := postJSON(t, srv.URL+"/api/v1/transfers", map[string]any{
		"privatekey": "hunter2",
		"to":         "k2",
		"amount":     10,
		"metadata":   "coffee",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["ok"])
	tx, ok := body["transaction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, from, tx["from"])
	assert.Equal(t, "k2", tx["to"])
	assert.Equal(t, float64(10), tx["value"])
}

func TestCreateTransferErrors(t *testing.T) {
	srv, mem := newTestAPI(t)
	from := domain.AddressFromSecret("hunter2")
	mem.SeedAccount(from, 100)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing privatekey",
			body:     map[string]any{"to": "k2", "amount": 10},
			wantCode: http.StatusUnauthorized,
			wantErr:  "auth_failed",
		},
		{
			name:     "insufficient funds",
			body:     map[string]any{"privatekey": "hunter2", "to": "k2", "amount": 500},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "insufficient_funds",
		},
		{
			name:     "non-positive amount",
			body:     map[string]any{"privatekey": "hunter2", "to": "k2", "amount": 0},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "Positive amount required",
		},
		{
			name:     "self transfer",
			body:     map[string]any{"privatekey": "hunter2", "to": from, "amount": 10},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "Self-transfer not allowed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := postJSON(t, srv.URL+"/api/v1/transfers", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestGetAccount(t *testing.T) {
	srv, mem := newTestAPI(t)
	mem.SeedAccount("k1", 250)

	code, body := getJSON(t, srv.URL+"/api/v1/accounts/k1")
	require.Equal(t, http.StatusOK, code)
	acc, ok := body["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(250), acc["balance"])

	code, body = getJSON(t, srv.URL+"/api/v1/accounts/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["ok"])
}

func TestRegisterName(t *testing.T) {
	srv, mem := newTestAPI(t)
	owner := domain.AddressFromSecret("hunter2")
	mem.SeedAccount(owner, 1000)

	code, body := postJSON(t, srv.URL+"/api/v1/names", map[string]any{
		"privatekey": "hunter2",
		"name":       "abc",
	})
	require.Equal(t, http.StatusCreated, code)
	rec, ok := body["name"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", rec["name"])
	assert.Equal(t, owner, rec["owner"])
	assert.Equal(t, float64(500), rec["unpaid"])

	code, body = postJSON(t, srv.URL+"/api/v1/names", map[string]any{
		"privatekey": "hunter2",
		"name":       "abc",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "name_taken", body["error"])

	code, _ = getJSON(t, srv.URL+"/api/v1/names/abc")
	assert.Equal(t, http.StatusOK, code)

	code, body = postJSON(t, srv.URL+"/api/v1/names", map[string]any{
		"privatekey": "hunter2",
		"name":       "Not Valid!",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "Invalid name", body["error"])
}

func TestHealth(t *testing.T) {
	srv, _ := newTestAPI(t)
	code, body := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
