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
	rolemodels "pharmatrace/internal/roles/models"
	rolesservice "pharmatrace/internal/roles/service"
	rolesstore "pharmatrace/internal/roles/store"
	"pharmatrace/internal/transfer/handler"
	transferservice "pharmatrace/internal/transfer/service"
	transferstore "pharmatrace/internal/transfer/store"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/testutil"
)

const (
	bootstrap   = id.Principal("bootstrap-admin")
	regulator   = id.Principal("reg-1")
	maker       = id.Principal("pharma-co")
	distributor = id.Principal("dist-1")
)

// newRouter wires the transfer routes over a stack with one minted
// batch and a free manufacturer -> distributor rule.
func newRouter(t *testing.T) chi.Router {
	t.Helper()
	roles := rolesservice.New(rolesstore.NewInMemory(), bootstrap)
	batches := batchservice.New(batchstore.NewInMemory(), roles)
	transfers := transferservice.New(transferstore.NewInMemory(), roles, batches)

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
	if err := roles.RegisterEntity(regCtx, distributor, rolemodels.RoleDistributor, "Dist One", "DST-001", ""); err != nil {
		t.Fatalf("register distributor: %v", err)
	}
	if err := roles.ApproveEntity(regCtx, distributor); err != nil {
		t.Fatalf("approve distributor: %v", err)
	}
	if err := transfers.SetTransferRule(regCtx, rolemodels.RoleManufacturer, rolemodels.RoleDistributor, true, false, 0); err != nil {
		t.Fatalf("set rule: %v", err)
	}
	if _, err := batches.MintBatch(testutil.Context(maker, 3), "Aspirin", "LOT-001", 1, 1000, 500); err != nil {
		t.Fatalf("mint: %v", err)
	}

	r := chi.NewRouter()
	handler.New(transfers, slog.Default()).Register(r)
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

func TestTransferFlowOverHTTP(t *testing.T) {
	router := newRouter(t)

	rec := do(t, router, http.MethodPost, "/transfers", maker,
		`{"batch_id":1,"to_entity":"dist-1","notes":"first hop"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		TransferID uint64 `json:"transfer_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.TransferID != 1 {
		t.Fatalf("transfer_id = %d, want 1", created.TransferID)
	}

	rec = do(t, router, http.MethodGet, "/transfers/1", regulator, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get transfer: status = %d", rec.Code)
	}
	var record struct {
		Status            string `json:"status"`
		ComplianceChecked bool   `json:"compliance_checked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Status != "compliant" || !record.ComplianceChecked {
		t.Fatalf("record = %+v, want compliant and checked", record)
	}

	rec = do(t, router, http.MethodGet, "/batches/1/custody", regulator, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("custody: status = %d", rec.Code)
	}
	var custody struct {
		Custody []string `json:"custody_chain"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &custody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(custody.Custody) != 2 || custody.Custody[1] != "dist-1" {
		t.Fatalf("custody = %v", custody.Custody)
	}

	rec = do(t, router, http.MethodGet, "/batches/1/compliance", regulator, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("compliance: status = %d", rec.Code)
	}
}

func TestRuleAndFreezeOverHTTP(t *testing.T) {
	router := newRouter(t)

	rec := do(t, router, http.MethodPut, "/transfers/rules", regulator,
		`{"from_type":"distributor","to_type":"pharmacy","allowed":true,"requires_authorization":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set rule: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPut, "/transfers/rules", maker,
		`{"from_type":"distributor","to_type":"pharmacy","allowed":true}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-regulator rule: status = %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/batches/1/freeze", regulator, `{"reason":"tampering"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("freeze: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/batches/1/frozen", regulator, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("frozen: status = %d", rec.Code)
	}
	var frozen struct {
		Frozen bool `json:"frozen"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &frozen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !frozen.Frozen {
		t.Fatalf("batch should be frozen")
	}

	rec = do(t, router, http.MethodPost, "/transfers", maker, `{"batch_id":1,"to_entity":"dist-1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("frozen transfer: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/batches/1/unfreeze", regulator, `{"reason":"cleared"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unfreeze: status = %d", rec.Code)
	}
}
