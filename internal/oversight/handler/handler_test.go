package handler_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	batchservice "pharmatrace/internal/batch/service"
	batchstore "pharmatrace/internal/batch/store"
	"pharmatrace/internal/oversight/handler"
	oversightservice "pharmatrace/internal/oversight/service"
	oversightstore "pharmatrace/internal/oversight/store"
	rolesservice "pharmatrace/internal/roles/service"
	rolesstore "pharmatrace/internal/roles/store"
	transferservice "pharmatrace/internal/transfer/service"
	transferstore "pharmatrace/internal/transfer/store"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/testutil"
)

const (
	bootstrap = id.Principal("bootstrap-admin")
	regulator = id.Principal("reg-1")
	maker     = id.Principal("pharma-co")
)

// newRouter wires the full stack behind the oversight routes and mints
// one batch with external id LOT-001.
func newRouter(t *testing.T) chi.Router {
	t.Helper()
	roles := rolesservice.New(rolesstore.NewInMemory(), bootstrap)
	batches := batchservice.New(batchstore.NewInMemory(), roles)
	transfers := transferservice.New(transferstore.NewInMemory(), roles, batches)
	oversight := oversightservice.New(oversightstore.NewInMemory(), oversightstore.NewSuspiciousMemory(),
		roles, batches, transfers)

	if err := roles.AddRegulator(testutil.Context(bootstrap, 1), regulator, "Agency"); err != nil {
		t.Fatalf("add regulator: %v", err)
	}
	regCtx := testutil.Context(regulator, 2)
	if err := roles.RegisterManufacturer(regCtx, maker, "Pharma Co", "MFG-001"); err != nil {
		t.Fatalf("register manufacturer: %v", err)
	}
	if err := roles.ApproveManufacturer(regCtx, maker); err != nil {
		t.Fatalf("approve manufacturer: %v", err)
	}
	if _, err := batches.MintBatch(testutil.Context(maker, 3), "Aspirin", "LOT-001", 1, 1000, 500); err != nil {
		t.Fatalf("mint batch: %v", err)
	}

	h := handler.New(oversight, slog.Default())
	r := chi.NewRouter()
	h.Register(r)
	h.RegisterPublic(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, caller id.Principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	if body == "" {
		body = "{}"
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = testutil.WithCaller(req, caller)
	req = testutil.WithClock(req, 10)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInvestigationFlowOverHTTP(t *testing.T) {
	router := newRouter(t)

	rec := do(t, router, http.MethodPost, "/investigations", regulator,
		`{"batch_id":1,"severity":3,"title":"counterfeit suspicion","affected_entities":[" dist-1","dist-1","ph-1"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		InvestigationID uint64 `json:"investigation_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(t, router, http.MethodGet, "/investigations/1", regulator, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var inv struct {
		Status           string   `json:"status"`
		AffectedEntities []string `json:"affected_entities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Status != "active" {
		t.Fatalf("status = %q, want active", inv.Status)
	}
	// Duplicate and padded entries collapse on the way in.
	if len(inv.AffectedEntities) != 2 {
		t.Fatalf("affected = %v, want deduped pair", inv.AffectedEntities)
	}

	rec = do(t, router, http.MethodPost, "/investigations/1/close", regulator,
		`{"resolution":"confirmed","evidence_hash":"sha256:abc"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("close: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// High severity also raised alert 1.
	rec = do(t, router, http.MethodPost, "/alerts/1/acknowledge", regulator, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("acknowledge: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestQuarantineFlowOverHTTP(t *testing.T) {
	router := newRouter(t)

	rec := do(t, router, http.MethodPost, "/batches/1/quarantine", regulator, `{"reason":"tampering"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("quarantine: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/batches/1/tracking", regulator, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tracking: status = %d", rec.Code)
	}
	var tracking struct {
		Frozen      bool `json:"frozen"`
		Quarantined bool `json:"quarantined"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tracking); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !tracking.Frozen || !tracking.Quarantined {
		t.Fatalf("tracking = %+v, want frozen and quarantined", tracking)
	}

	rec = do(t, router, http.MethodPost, "/batches/1/quarantine/release", regulator, `{"reason":"cleared"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("release: status = %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/batches/0/quarantine", regulator, `{"reason":"r"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero token id: status = %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/batches/1/quarantine", maker, `{"reason":"r"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-regulator: status = %d", rec.Code)
	}
}

func TestPublicVerifyOverHTTP(t *testing.T) {
	router := newRouter(t)

	verify := func(identifier, ua string) (int, map[string]any) {
		req := httptest.NewRequest(http.MethodGet, "/public/verify/"+identifier, nil)
		if ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		req = testutil.WithClock(req, 10)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		var body map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		return rec.Code, body
	}

	code, body := verify("LOT-001", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	if code != http.StatusOK {
		t.Fatalf("verify: status = %d", code)
	}
	if body["found"] != true || body["authentic"] != true {
		t.Fatalf("body = %v, want found authentic", body)
	}
	if body["verification_id"] == "" {
		t.Fatalf("missing verification id")
	}

	code, body = verify("LOT-NOPE", "")
	if code != http.StatusOK {
		t.Fatalf("unknown batch should still return 200, got %d", code)
	}
	if body["found"] != false || body["authentic"] != false {
		t.Fatalf("body = %v, want not found", body)
	}
}
