package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/JavierPalina/TINCO-sub002/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (*memoryRepo, http.Handler) {
	t.Helper()
	repo, _ := newLedgerFixture()
	svc := NewService(repo, ServiceConfig{Idempotency: &memoryIdempotency{}})
	r := chi.NewRouter()
	r.Route("/inventory", NewHandler(nil, svc).MountRoutes)
	return repo, r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHandlerMovementLifecycle(t *testing.T) {
	repo, h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/inventory/movements",
		`{"type":"in","item_id":"X","warehouse_id":"W","qty":"10","unit":"un","ref":{"kind":"po","id":"PO-1"}}`,
		map[string]string{HeaderActor: "u-7"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res MovementResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	requireDecimal(t, "10", res.Balance.OnHand)
	require.Equal(t, "u-7", res.Movement.CreatedBy)
	require.Equal(t, RefPO, res.Movement.Ref.Kind)

	rec = doJSON(t, h, http.MethodPost, "/inventory/movements",
		`{"type":"OUT","item_id":"X","warehouse_id":"W","qty":11}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INSUFFICIENT_STOCK", decodeProblem(t, rec).Kind)
	requireDecimal(t, "10", repo.balance(BalanceKey{ItemID: "X", WarehouseID: "W"}).OnHand)

	rec = doJSON(t, h, http.MethodGet, "/inventory/balances/lookup?item_id=X&warehouse_id=W", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		OnHand    string `json:"on_hand"`
		Available string `json:"available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "10", view.Available)

	rec = doJSON(t, h, http.MethodGet, "/inventory/movements?item_id=X&types=in,out", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"movements"`)
}

func TestHandlerRejectsMalformedPayloads(t *testing.T) {
	_, h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/inventory/movements", `{"type":"IN","warehouse_id":"W","qty":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	require.Equal(t, "VALIDATION", p.Kind)
	require.Contains(t, p.Fields, "MovementRequest.ItemID")

	rec = doJSON(t, h, http.MethodPost, "/inventory/movements", `{"type":"RESERVE","item_id":"X","warehouse_id":"W","qty":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodPost, "/inventory/movements", `{"type":"IN","item_id":"X","warehouse_id":"W","qty":"abc"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/inventory/movements", `{"type":"IN","item_id":"X","warehouse_id":"W","qty":1,"unit":"lbs"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION", decodeProblem(t, rec).Kind)
}

func TestHandlerReservationFlow(t *testing.T) {
	repo, h := newTestRouter(t)
	stockIn(t, NewService(repo, ServiceConfig{}), "X", "W", "", "5")

	rec := doJSON(t, h, http.MethodPost, "/inventory/reservations",
		`{"warehouse_id":"W","ref":{"kind":"SO","id":"SO-9"},"lines":[{"item_id":"X","qty":2}]}`,
		map[string]string{HeaderIdempotencyKey: "res-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, ReservationActive, created.Status)

	rec = doJSON(t, h, http.MethodPost, "/inventory/reservations",
		`{"warehouse_id":"W","ref":{"kind":"SO","id":"SO-9"},"lines":[{"item_id":"X","qty":2}]}`,
		map[string]string{HeaderIdempotencyKey: "res-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_STATE", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodGet, "/inventory/reservations/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/inventory/reservations?ref_kind=so&ref_id=SO-9&status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), created.ID)

	rec = doJSON(t, h, http.MethodPost, "/inventory/reservations/"+created.ID+"/release", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/inventory/reservations/"+created.ID+"/release", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_STATE", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodGet, "/inventory/reservations/nope", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "NOT_FOUND", decodeProblem(t, rec).Kind)
}

func TestHandlerTransferAndProduce(t *testing.T) {
	repo, h := newTestRouter(t)
	repo.boms["F"] = []BOM{{ID: "bom-1", FinishedItemID: "F", Version: 1, Active: true, Lines: []BOMLine{{ComponentItemID: "C", Qty: qty("2")}}}}
	stockIn(t, NewService(repo, ServiceConfig{}), "C", "W1", "", "6")

	rec := doJSON(t, h, http.MethodPost, "/inventory/transfers",
		`{"item_id":"C","qty":"6","from":{"warehouse_id":"W1"},"to":{"warehouse_id":"W"}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/inventory/production", `{"finished_item_id":"F","warehouse_id":"W","qty":3}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	requireDecimal(t, "3", repo.balance(BalanceKey{ItemID: "F", WarehouseID: "W"}).OnHand)

	rec = doJSON(t, h, http.MethodPost, "/inventory/production", `{"finished_item_id":"F","warehouse_id":"W","qty":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INSUFFICIENT_STOCK", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodGet, "/inventory/balances?warehouse_id=W", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"available"`)
}
