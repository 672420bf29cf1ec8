package x402

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func assertJSONField(t *testing.T, body []byte, field, want string) {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	got, ok := decoded[field].(string)
	if !ok {
		t.Fatalf("field %q missing or not a string in %s", field, body)
	}
	if got != want {
		t.Fatalf("field %q = %q, want %q", field, got, want)
	}
}

func containsJSONField(t *testing.T, body []byte, field string) bool {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	_, ok := decoded[field]
	return ok
}

// fakeFacilitator is a test double for the remote verify/settle service.
// It records every settle idempotency key and replays the original result
// for a key it has already settled.
type fakeFacilitator struct {
	mu sync.Mutex

	verifyOutcome     VerificationOutcome
	verifyFailures    int // initial attempts answered with a dropped connection
	verifyServerError int // initial attempts answered with a 500
	verifyCalls       int

	settleResult   SettlementResult
	settleReject   string // non-empty: answer 422 with this error
	settleFailures int
	settleCalls    int
	settledKeys    map[string]SettlementResult

	srv *httptest.Server
}

func newFakeFacilitator(t *testing.T) *fakeFacilitator {
	t.Helper()
	f := &fakeFacilitator{settledKeys: make(map[string]SettlementResult)}
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", f.handleVerify)
	mux.HandleFunc("/settle", f.handleSettle)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFacilitator) URL() string { return f.srv.URL }

func (f *fakeFacilitator) counts() (verify, settle int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.settleCalls
}

func (f *fakeFacilitator) handleVerify(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.verifyCalls++
	fail := f.verifyFailures > 0
	if fail {
		f.verifyFailures--
	}
	serverError := !fail && f.verifyServerError > 0
	if serverError {
		f.verifyServerError--
	}
	outcome := f.verifyOutcome
	f.mu.Unlock()

	if fail {
		dropConnection(w)
		return
	}
	if serverError {
		http.Error(w, "facilitator blew up", http.StatusInternalServerError)
		return
	}
	var req verifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (f *fakeFacilitator) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.settleCalls++
	fail := f.settleFailures > 0
	if fail {
		f.settleFailures--
	}
	reject := f.settleReject
	prior, settled := f.settledKeys[req.IdempotencyKey]
	result := f.settleResult
	if !settled && !fail && reject == "" {
		f.settledKeys[req.IdempotencyKey] = result
	}
	f.mu.Unlock()

	switch {
	case fail:
		dropConnection(w)
	case reject != "":
		writeJSON(w, http.StatusUnprocessableEntity, facilitatorErrorBody{Error: reject})
	case settled:
		// Same key settles at most once; replay the original receipt.
		writeJSON(w, http.StatusOK, prior)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// dropConnection kills the TCP connection mid-response so the client
// observes a transport error rather than an HTTP status.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}

// newHangingServer returns the URL of a server that never answers until
// hang is closed, so per-attempt deadlines are the only way out.
func newHangingServer(t *testing.T, hang <-chan struct{}) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-hang
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, Timeout: 2 * time.Second}
}
