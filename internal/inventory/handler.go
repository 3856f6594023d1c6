package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JavierPalina/TINCO-sub002/internal/platform/httpx"
	"github.com/JavierPalina/TINCO-sub002/internal/shared"
)

// Header names read by the inventory endpoints.
const (
	HeaderActor          = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleMovement)
	r.Get("/movements", h.handleListMovements)
	r.Post("/transfers", h.handleTransfer)
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.handleCreateReservation)
		r.Get("/", h.handleListReservations)
		r.Get("/{id}", h.handleGetReservation)
		r.Post("/{id}/release", h.handleReleaseReservation)
	})
	r.Post("/production", h.handleProduce)
	r.Get("/balances", h.handleListBalances)
	r.Get("/balances/lookup", h.handleGetBalance)
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "parse movement", err)
		return
	}
	in.ActorID, in.RequestKey = actorAndKey(r)
	res, err := h.service.ApplyMovement(r.Context(), in)
	if err != nil {
		h.fail(w, r, "apply movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "parse transfer", err)
		return
	}
	in.ActorID, in.RequestKey = actorAndKey(r)
	res, err := h.service.ApplyTransfer(r.Context(), in)
	if err != nil {
		h.fail(w, r, "apply transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req ReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "parse reservation", err)
		return
	}
	in.ActorID, in.RequestKey = actorAndKey(r)
	res, err := h.service.CreateReservation(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create reservation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleReleaseReservation(w http.ResponseWriter, r *http.Request) {
	actor, key := actorAndKey(r)
	res, err := h.service.ReleaseReservation(r.Context(), chi.URLParam(r, "id"), actor, key)
	if err != nil {
		h.fail(w, r, "release reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ReservationFilter{RefID: q.Get("ref_id")}
	var err error
	if raw := q.Get("ref_kind"); raw != "" {
		if filter.RefKind, err = ParseRefKind(raw); err != nil {
			h.fail(w, r, "list reservations", err)
			return
		}
	}
	if filter.Status, err = ParseReservationStatus(q.Get("status")); err != nil {
		h.fail(w, r, "list reservations", err)
		return
	}
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		h.fail(w, r, "list reservations", err)
		return
	}
	out, err := h.service.ListReservations(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list reservations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reservations": out})
}

func (h *Handler) handleProduce(w http.ResponseWriter, r *http.Request) {
	var req ProduceRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "parse production", err)
		return
	}
	in.ActorID, in.RequestKey = actorAndKey(r)
	res, err := h.service.Produce(r.Context(), in)
	if err != nil {
		h.fail(w, r, "produce", err)
		return
	}
	h.logger.Info("production run posted",
		slog.String("run_id", res.RunID),
		slog.String("finished_item_id", in.FinishedItemID),
		slog.Int("consumed", len(res.Consumed)))
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := BalanceKey{ItemID: q.Get("item_id"), WarehouseID: q.Get("warehouse_id"), LocationID: q.Get("location_id")}
	bal, err := h.service.GetBalance(r.Context(), key)
	if err != nil {
		h.fail(w, r, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceView{Balance: bal, Available: bal.Available().String()})
}

type balanceView struct {
	Balance
	Available string `json:"available"`
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.fail(w, r, "list balances", err)
		return
	}
	out, err := h.service.ListBalances(r.Context(), BalanceFilter{ItemID: q.Get("item_id"), WarehouseID: q.Get("warehouse_id"), Limit: limit})
	if err != nil {
		h.fail(w, r, "list balances", err)
		return
	}
	views := make([]balanceView, 0, len(out))
	for _, b := range out {
		views = append(views, balanceView{Balance: b, Available: b.Available().String()})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": views})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{ItemID: q.Get("item_id"), WarehouseID: q.Get("warehouse_id")}
	var err error
	if raw := q.Get("types"); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			t := MovementType(normalizeToken(tok))
			switch t {
			case MovementIn, MovementOut, MovementTransfer, MovementAdjust, MovementReserve, MovementUnreserve:
				filter.Types = append(filter.Types, t)
			default:
				h.fail(w, r, "list movements", validationf("unknown movement type %q", tok))
				return
			}
		}
	}
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	out, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

// decode reads and validates the body, writing a problem response on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.RespondError(w, err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Namespace()] = fieldErr.Tag()
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	if KindOf(err) == KindInternal {
		h.logger.Error(action+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Debug(action+" rejected", slog.String("kind", string(KindOf(err))), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// actorAndKey returns the acting principal, preferring the one placed in
// context by middleware, and the caller supplied request key.
func actorAndKey(r *http.Request) (string, string) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		actor = strings.TrimSpace(r.Header.Get(HeaderActor))
	}
	return actor, strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, validationf("limit must be a non-negative integer")
	}
	return n, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, validationf("invalid time %q", raw)
	}
	return t, nil
}
