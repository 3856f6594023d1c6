package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JavierPalina/TINCO-sub002/internal/shared"
)

// ErrRecordNotFound is returned by repositories when a lookup misses.
var ErrRecordNotFound = errors.New("inventory: record not found")

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	ListWarehouseIDs(ctx context.Context) ([]string, error)
	WarehouseBalances(ctx context.Context, warehouseID string) ([]Balance, error)
	ReplayTotals(ctx context.Context, warehouseID string) ([]ReplayTotal, error)
	WarehouseAvailable(ctx context.Context, itemID, warehouseID string) (decimal.Decimal, error)
}

// TxRepository is the transactional view of the store. Balances returned by
// GetOrCreateBalance stay locked until the transaction ends.
type TxRepository interface {
	BOMSource
	GetItem(ctx context.Context, id string) (Item, error)
	GetWarehouse(ctx context.Context, id string) (Warehouse, error)
	GetLocation(ctx context.Context, id string) (Location, error)
	GetOrCreateBalance(ctx context.Context, key BalanceKey) (Balance, error)
	UpdateBalance(ctx context.Context, bal Balance) (Balance, error)
	InsertMovements(ctx context.Context, movements []Movement) error
	InsertReservation(ctx context.Context, r Reservation) error
	GetReservationForUpdate(ctx context.Context, id string) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus, at time.Time) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups collaborators and optional settings.
type ServiceConfig struct {
	BOMPolicy   BOMPolicy
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       *BalanceCache
	Notifier    Notifier
	Observer    Observer
	Logger      *slog.Logger
}

// Service coordinates inventory ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       *BalanceCache
	notifier    Notifier
	observer    Observer
	resolver    BOMResolver
	logger      *slog.Logger
	reads       singleflight.Group
	now         func() time.Time
	newID       func() string
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		notifier:    cfg.Notifier,
		observer:    cfg.Observer,
		resolver:    NewBOMResolver(cfg.BOMPolicy),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// committed describes what a successful transaction touched.
type committed struct {
	op        string
	actor     string
	entityID  string
	meta      map[string]any
	touched   []BalanceKey
	balances  []Balance
	lowered   []BalanceKey
	items     map[string]Item
	movements int
}

// ApplyMovement posts an IN, OUT or ADJUST movement.
func (s *Service) ApplyMovement(ctx context.Context, in MovementInput) (MovementResult, error) {
	if err := validateMovement(in); err != nil {
		return MovementResult{}, s.observe("movement", s.now(), err)
	}
	key := BalanceKey{ItemID: in.ItemID, WarehouseID: in.WarehouseID, LocationID: in.LocationID}
	delta := in.Qty
	if in.Type == MovementOut {
		delta = in.Qty.Neg()
	}

	var (
		res  MovementResult
		done committed
	)
	err := s.execute(ctx, "movement", in.RequestKey, func(ctx context.Context, tx TxRepository) error {
		lt := newLedgerTx(tx)
		item, err := lt.stockItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		unit, err := resolveUnit(item, in.Unit, 0)
		if err != nil {
			return err
		}
		if delta.IsPositive() {
			if err := checkTracking(item, in.Lot, in.Serial, 0); err != nil {
				return err
			}
		}
		if err := lt.checkScope(ctx, key.Scope()); err != nil {
			return err
		}
		if err := lt.lock(ctx, key); err != nil {
			return err
		}

		bal := lt.balance(key)
		newOnHand := bal.OnHand.Add(delta)
		if delta.IsNegative() {
			if avail := newOnHand.Sub(bal.Reserved); avail.IsNegative() {
				return insufficient(item.ID, 0, "insufficient stock for item %s: available %s, required %s",
					item.SKU, bal.Available().String(), delta.Neg().String())
			}
			lt.markLowered(key)
		}
		bal.OnHand = newOnHand

		mv := s.newMovement(in.Type, key, delta, unit, in.Ref, in.Note, in.ActorID)
		mv.UnitCost = in.UnitCost
		mv.Lot = in.Lot
		mv.Serial = in.Serial
		mv.Attributes = in.Attributes

		balances, err := lt.flush(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, []Movement{mv}); err != nil {
			return internal("insert movement", err)
		}
		res = MovementResult{Movement: mv, Balance: balances[key]}
		done = s.summarize(lt, "movement", in.ActorID, mv.ID, 1, map[string]any{
			"type": in.Type, "item_id": item.ID, "qty": delta.String(), "balance": key.String(),
		})
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, done)
	return res, nil
}

// ApplyTransfer moves stock between two scopes in one transaction.
func (s *Service) ApplyTransfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := validateTransfer(in); err != nil {
		return TransferResult{}, s.observe("transfer", s.now(), err)
	}
	src := BalanceKey{ItemID: in.ItemID, WarehouseID: in.From.WarehouseID, LocationID: in.From.LocationID}
	dst := BalanceKey{ItemID: in.ItemID, WarehouseID: in.To.WarehouseID, LocationID: in.To.LocationID}

	var (
		res  TransferResult
		done committed
	)
	err := s.execute(ctx, "transfer", in.RequestKey, func(ctx context.Context, tx TxRepository) error {
		lt := newLedgerTx(tx)
		item, err := lt.stockItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		unit, err := resolveUnit(item, in.Unit, 0)
		if err != nil {
			return err
		}
		if err := checkTracking(item, in.Lot, in.Serial, 0); err != nil {
			return err
		}
		if err := lt.checkScope(ctx, in.From); err != nil {
			return err
		}
		if err := lt.checkScope(ctx, in.To); err != nil {
			return err
		}
		if err := lt.lock(ctx, src, dst); err != nil {
			return err
		}

		from := lt.balance(src)
		if from.OnHand.Sub(in.Qty).Sub(from.Reserved).IsNegative() {
			return insufficient(item.ID, 0, "insufficient stock for item %s at %s: available %s, required %s",
				item.SKU, src.Scope().WarehouseID, from.Available().String(), in.Qty.String())
		}
		to := lt.balance(dst)
		from.OnHand = from.OnHand.Sub(in.Qty)
		to.OnHand = to.OnHand.Add(in.Qty)
		lt.markLowered(src)

		mv := s.newMovement(MovementTransfer, BalanceKey{ItemID: in.ItemID}, in.Qty, unit, in.Ref, in.Note, in.ActorID)
		mv.FromWarehouseID, mv.FromLocationID = in.From.WarehouseID, in.From.LocationID
		mv.ToWarehouseID, mv.ToLocationID = in.To.WarehouseID, in.To.LocationID
		mv.Lot = in.Lot
		mv.Serial = in.Serial

		balances, err := lt.flush(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, []Movement{mv}); err != nil {
			return internal("insert movement", err)
		}
		res = TransferResult{Movement: mv, From: balances[src], To: balances[dst]}
		done = s.summarize(lt, "transfer", in.ActorID, mv.ID, 1, map[string]any{
			"item_id": item.ID, "qty": in.Qty.String(), "from": src.String(), "to": dst.String(),
		})
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterCommit(ctx, done)
	return res, nil
}

// ApplyReservation reserves or releases a batch of lines atomically.
func (s *Service) ApplyReservation(ctx context.Context, in ReservationInput) (ReservationResult, error) {
	if err := validateReservation(in); err != nil {
		return ReservationResult{}, s.observe("reservation", s.now(), err)
	}
	var (
		res  ReservationResult
		done committed
	)
	err := s.execute(ctx, "reservation", in.RequestKey, func(ctx context.Context, tx TxRepository) error {
		lt := newLedgerTx(tx)
		ref := in.Ref
		movements, _, err := s.reserve(ctx, lt, in.Action, in.WarehouseID, in.Lines, &ref, in.Note, in.ActorID)
		if err != nil {
			return err
		}
		balances, err := lt.flush(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, movements); err != nil {
			return internal("insert movements", err)
		}
		res = ReservationResult{Movements: movements, Balances: sortedBalances(balances)}
		done = s.summarize(lt, "reservation", in.ActorID, ref.String(), len(movements), map[string]any{
			"action": in.Action, "warehouse_id": in.WarehouseID, "lines": len(in.Lines),
		})
		return nil
	})
	if err != nil {
		return ReservationResult{}, err
	}
	s.afterCommit(ctx, done)
	return res, nil
}

// CreateReservation stores an ACTIVE reservation and reserves its lines in
// the same transaction.
func (s *Service) CreateReservation(ctx context.Context, in ReservationInput) (Reservation, error) {
	in.Action = ActionReserve
	if err := validateReservation(in); err != nil {
		return Reservation{}, s.observe("reservation_create", s.now(), err)
	}
	var (
		out  Reservation
		done committed
	)
	err := s.execute(ctx, "reservation_create", in.RequestKey, func(ctx context.Context, tx TxRepository) error {
		lt := newLedgerTx(tx)
		ref := in.Ref
		movements, lines, err := s.reserve(ctx, lt, ActionReserve, in.WarehouseID, in.Lines, &ref, in.Note, in.ActorID)
		if err != nil {
			return err
		}
		r := Reservation{
			ID:          s.newID(),
			Ref:         in.Ref,
			WarehouseID: in.WarehouseID,
			Lines:       lines,
			Status:      ReservationActive,
			Note:        in.Note,
			CreatedAt:   s.now(),
			CreatedBy:   in.ActorID,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return internal("insert reservation", err)
		}
		if _, err := lt.flush(ctx); err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, movements); err != nil {
			return internal("insert movements", err)
		}
		out = r
		done = s.summarize(lt, "reservation_create", in.ActorID, r.ID, len(movements), map[string]any{
			"ref": in.Ref.String(), "warehouse_id": in.WarehouseID, "lines": len(lines),
		})
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.afterCommit(ctx, done)
	return out, nil
}

// ReleaseReservation unreserves the stored lines of an ACTIVE reservation
// and marks it RELEASED.
func (s *Service) ReleaseReservation(ctx context.Context, id, actorID, requestKey string) (Reservation, error) {
	if id == "" {
		return Reservation{}, s.observe("reservation_release", s.now(), validationf("reservation id required"))
	}
	var (
		out  Reservation
		done committed
	)
	err := s.execute(ctx, "reservation_release", requestKey, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return notFound("reservation", id)
			}
			return internal("load reservation", err)
		}
		if r.Status != ReservationActive {
			return invalidState("", 0, "reservation %s is %s", r.ID, r.Status)
		}
		lines := make([]ReservationLineInput, 0, len(r.Lines))
		for _, l := range r.Lines {
			lines = append(lines, ReservationLineInput{ItemID: l.ItemID, Qty: l.Qty, Unit: l.Unit, LocationID: l.LocationID})
		}
		lt := newLedgerTx(tx)
		ref := r.Ref
		movements, _, err := s.reserve(ctx, lt, ActionUnreserve, r.WarehouseID, lines, &ref, r.Note, actorID)
		if err != nil {
			return err
		}
		at := s.now()
		if err := tx.UpdateReservationStatus(ctx, r.ID, ReservationReleased, at); err != nil {
			return internal("update reservation", err)
		}
		if _, err := lt.flush(ctx); err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, movements); err != nil {
			return internal("insert movements", err)
		}
		r.Status = ReservationReleased
		r.ReleasedAt = &at
		out = r
		done = s.summarize(lt, "reservation_release", actorID, r.ID, len(movements), map[string]any{
			"ref": r.Ref.String(), "lines": len(r.Lines),
		})
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.afterCommit(ctx, done)
	return out, nil
}

// reserve applies reservation lines against locked balances. Lines sharing a
// balance key accumulate. It returns one movement and one resolved line per
// request line.
func (s *Service) reserve(ctx context.Context, lt *ledgerTx, action ReservationAction, warehouseID string, lines []ReservationLineInput, ref *Reference, note, actor string) ([]Movement, []ReservationLine, error) {
	keys := make([]BalanceKey, len(lines))
	units := make([]Unit, len(lines))
	items := make([]Item, len(lines))
	for i, line := range lines {
		item, err := lt.stockItem(ctx, line.ItemID)
		if err != nil {
			return nil, nil, withLine(err, i+1)
		}
		unit, err := resolveUnit(item, line.Unit, i+1)
		if err != nil {
			return nil, nil, err
		}
		scope := Scope{WarehouseID: warehouseID, LocationID: line.LocationID}
		if err := lt.checkScope(ctx, scope); err != nil {
			return nil, nil, withLine(err, i+1)
		}
		keys[i] = BalanceKey{ItemID: line.ItemID, WarehouseID: warehouseID, LocationID: line.LocationID}
		units[i] = unit
		items[i] = item
	}
	if err := lt.lock(ctx, keys...); err != nil {
		return nil, nil, err
	}

	movements := make([]Movement, 0, len(lines))
	resolved := make([]ReservationLine, 0, len(lines))
	for i, line := range lines {
		bal := lt.balance(keys[i])
		delta := line.Qty
		mvType := MovementReserve
		if action == ActionUnreserve {
			delta = line.Qty.Neg()
			mvType = MovementUnreserve
		}
		newReserved := bal.Reserved.Add(delta)
		if newReserved.IsNegative() {
			return nil, nil, invalidState(line.ItemID, i+1, "line %d: cannot release %s of item %s, only %s reserved",
				i+1, line.Qty.String(), items[i].SKU, bal.Reserved.String())
		}
		if action == ActionReserve {
			if bal.OnHand.Sub(newReserved).IsNegative() {
				return nil, nil, insufficient(line.ItemID, i+1, "line %d: insufficient stock for item %s: available %s, required %s",
					i+1, items[i].SKU, bal.Available().String(), line.Qty.String())
			}
			lt.markLowered(keys[i])
		}
		bal.Reserved = newReserved
		movements = append(movements, s.newMovement(mvType, keys[i], delta, units[i], ref, note, actor))
		resolved = append(resolved, ReservationLine{ItemID: line.ItemID, Qty: line.Qty, Unit: units[i], LocationID: line.LocationID})
	}
	return movements, resolved, nil
}

// Produce consumes components and receives finished goods in one run.
func (s *Service) Produce(ctx context.Context, in ProduceInput) (ProductionResult, error) {
	qty, err := validateProduce(in)
	if err != nil {
		return ProductionResult{}, s.observe("production", s.now(), err)
	}
	type consumption struct {
		key  BalanceKey
		item Item
		unit Unit
		need decimal.Decimal
	}

	var (
		res  ProductionResult
		done committed
	)
	err = s.execute(ctx, "production", in.RequestKey, func(ctx context.Context, tx TxRepository) error {
		lt := newLedgerTx(tx)
		finished, err := lt.stockItem(ctx, in.FinishedItemID)
		if err != nil {
			return err
		}
		target := Scope{WarehouseID: in.WarehouseID, LocationID: in.LocationID}
		if err := lt.checkScope(ctx, target); err != nil {
			return err
		}

		lines := in.Lines
		bomVersion := 0
		if len(lines) == 0 {
			bom, err := s.resolver.Resolve(ctx, tx, finished.ID)
			if err != nil {
				return err
			}
			bomVersion = bom.Version
			lines = make([]ProduceLine, 0, len(bom.Lines))
			for _, l := range bom.Lines {
				lines = append(lines, ProduceLine{ItemID: l.ComponentItemID, Qty: l.Qty, Unit: l.Unit})
			}
		}

		plan := make([]consumption, 0, len(lines))
		keys := make([]BalanceKey, 0, len(lines)+1)
		for i, line := range lines {
			if line.ItemID == finished.ID {
				return &Error{Kind: KindValidation, Message: "finished item cannot consume itself", ItemID: line.ItemID, Line: i + 1}
			}
			item, err := lt.stockItem(ctx, line.ItemID)
			if err != nil {
				return withLine(err, i+1)
			}
			unit, err := resolveUnit(item, line.Unit, i+1)
			if err != nil {
				return err
			}
			scope := target
			switch {
			case line.WarehouseID != "":
				scope = Scope{WarehouseID: line.WarehouseID, LocationID: line.LocationID}
			case line.LocationID != "":
				scope = Scope{WarehouseID: target.WarehouseID, LocationID: line.LocationID}
			}
			if err := lt.checkScope(ctx, scope); err != nil {
				return withLine(err, i+1)
			}
			need := line.Qty.Mul(qty)
			if err := checkStorable(need, "component requirement", item.ID, i+1); err != nil {
				return err
			}
			key := BalanceKey{ItemID: item.ID, WarehouseID: scope.WarehouseID, LocationID: scope.LocationID}
			plan = append(plan, consumption{key: key, item: item, unit: unit, need: need})
			keys = append(keys, key)
		}
		finishedKey := BalanceKey{ItemID: finished.ID, WarehouseID: target.WarehouseID, LocationID: target.LocationID}
		keys = append(keys, finishedKey)
		if err := lt.lock(ctx, keys...); err != nil {
			return err
		}

		runID := s.newID()
		ref := in.Ref
		if ref == nil {
			ref = &Reference{Kind: RefProduction, ID: runID}
		}
		movements := make([]Movement, 0, len(plan)+1)
		for i, c := range plan {
			bal := lt.balance(c.key)
			if bal.OnHand.Sub(c.need).Sub(bal.Reserved).IsNegative() {
				return insufficient(c.item.ID, i+1, "insufficient stock for component %s: available %s, required %s",
					c.item.SKU, bal.Available().String(), c.need.String())
			}
			bal.OnHand = bal.OnHand.Sub(c.need)
			lt.markLowered(c.key)
			movements = append(movements, s.newMovement(MovementOut, c.key, c.need.Neg(), c.unit, ref, in.Note, in.ActorID))
		}
		fin := lt.balance(finishedKey)
		fin.OnHand = fin.OnHand.Add(qty)
		produced := s.newMovement(MovementIn, finishedKey, qty, finished.Unit, ref, in.Note, in.ActorID)
		movements = append(movements, produced)

		if _, err := lt.flush(ctx); err != nil {
			return err
		}
		if err := tx.InsertMovements(ctx, movements); err != nil {
			return internal("insert movements", err)
		}
		res = ProductionResult{
			RunID:       runID,
			BOMVersion:  bomVersion,
			Consumed:    movements[:len(movements)-1],
			Produced:    produced,
			FinishedQty: qty,
		}
		done = s.summarize(lt, "production", in.ActorID, runID, len(movements), map[string]any{
			"finished_item_id": finished.ID, "qty": qty.String(), "bom_version": bomVersion, "ref": ref.String(),
		})
		return nil
	})
	if err != nil {
		return ProductionResult{}, err
	}
	s.afterCommit(ctx, done)
	return res, nil
}

// GetBalance returns the balance for key, or a zero balance when no row
// exists yet. Reads go through the cache when one is configured.
func (s *Service) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if key.ItemID == "" || key.WarehouseID == "" {
		return Balance{}, validationf("item and warehouse required")
	}
	if bal, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("inventory balance cache read failed", slog.String("balance", key.String()), slog.Any("error", err))
	} else if ok {
		return bal, nil
	}
	v, err, _ := s.reads.Do(key.String(), func() (any, error) {
		bal, err := s.repo.GetBalance(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			return Balance{ItemID: key.ItemID, WarehouseID: key.WarehouseID, LocationID: key.LocationID}, nil
		}
		if err != nil {
			return Balance{}, internal("get balance", err)
		}
		if err := s.cache.Set(ctx, bal); err != nil {
			s.logger.Warn("inventory balance cache write failed", slog.String("balance", key.String()), slog.Any("error", err))
		}
		return bal, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return v.(Balance), nil
}

// ListBalances returns balances matching filter.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	filter.Limit = clampLimit(filter.Limit)
	out, err := s.repo.ListBalances(ctx, filter)
	if err != nil {
		return nil, internal("list balances", err)
	}
	return out, nil
}

// ListMovements returns movements newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, validationf("movement range end precedes start")
	}
	filter.Limit = clampLimit(filter.Limit)
	out, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, internal("list movements", err)
	}
	return out, nil
}

// GetReservation loads one reservation.
func (s *Service) GetReservation(ctx context.Context, id string) (Reservation, error) {
	if id == "" {
		return Reservation{}, validationf("reservation id required")
	}
	r, err := s.repo.GetReservation(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return Reservation{}, notFound("reservation", id)
	}
	if err != nil {
		return Reservation{}, internal("get reservation", err)
	}
	return r, nil
}

// ListReservations returns reservations matching filter.
func (s *Service) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	filter.Limit = clampLimit(filter.Limit)
	out, err := s.repo.ListReservations(ctx, filter)
	if err != nil {
		return nil, internal("list reservations", err)
	}
	return out, nil
}

// Reconcile replays the movement log per warehouse and reports every
// balance that disagrees with it or has negative availability.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	start := s.now()
	warehouses, err := s.repo.ListWarehouseIDs(ctx)
	if err != nil {
		return nil, s.observe("reconcile", start, internal("list warehouses", err))
	}

	var (
		mu  sync.Mutex
		out []Discrepancy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, wh := range warehouses {
		g.Go(func() error {
			found, err := s.reconcileWarehouse(gctx, wh)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.observe("reconcile", start, internal("reconcile", err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	s.observe("reconcile", start, nil)
	return out, nil
}

func (s *Service) reconcileWarehouse(ctx context.Context, warehouseID string) ([]Discrepancy, error) {
	balances, err := s.repo.WarehouseBalances(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.ReplayTotals(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	replay := make(map[BalanceKey]ReplayTotal, len(totals))
	for _, t := range totals {
		replay[t.Key] = t
	}
	var out []Discrepancy
	for _, b := range balances {
		t := replay[b.Key()]
		delete(replay, b.Key())
		d := Discrepancy{
			Key:            b.Key(),
			StoredOnHand:   b.OnHand,
			ReplayOnHand:   t.OnHand,
			StoredReserved: b.Reserved,
			ReplayReserved: t.Reserved,
			NegativeAvail:  b.Available().IsNegative(),
		}
		if d.NegativeAvail || !b.OnHand.Equal(t.OnHand) || !b.Reserved.Equal(t.Reserved) {
			out = append(out, d)
		}
	}
	// Movements without a balance row.
	for key, t := range replay {
		if t.OnHand.IsZero() && t.Reserved.IsZero() {
			continue
		}
		out = append(out, Discrepancy{Key: key, ReplayOnHand: t.OnHand, ReplayReserved: t.Reserved})
	}
	return out, nil
}

// execute claims the request key, runs fn in one transaction and records
// the outcome. The key is released again when the operation fails.
func (s *Service) execute(ctx context.Context, op, requestKey string, fn func(context.Context, TxRepository) error) error {
	start := s.now()
	if requestKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, requestKey, "inventory:"+op); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return s.observe(op, start, invalidState("", 0, "request %s already processed", requestKey))
			}
			return s.observe(op, start, internal("claim request key", err))
		}
	}
	err := s.repo.WithTx(ctx, fn)
	if err != nil {
		err = internal("transaction", err)
		if requestKey != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(ctx, requestKey); derr != nil {
				s.logger.Error("release request key", slog.String("key", requestKey), slog.Any("error", derr))
			}
		}
	}
	return s.observe(op, start, err)
}

func (s *Service) observe(op string, start time.Time, err error) error {
	if s.observer != nil {
		s.observer.ObserveOperation(op, KindOf(err), s.now().Sub(start))
	}
	return err
}

func (s *Service) summarize(lt *ledgerTx, op, actor, entityID string, movements int, meta map[string]any) committed {
	return committed{
		op:        op,
		actor:     actor,
		entityID:  entityID,
		meta:      meta,
		touched:   lt.touched(),
		balances:  lt.flushed,
		lowered:   lt.loweredKeys(),
		items:     lt.items,
		movements: movements,
	}
}

// afterCommit runs the side effects of a committed operation. Failures are
// logged and never reported to the caller.
func (s *Service) afterCommit(ctx context.Context, c committed) {
	if err := s.cache.Store(ctx, c.balances...); err != nil {
		s.logger.Warn("inventory balance cache refresh failed", slog.String("op", c.op), slog.Any("error", err))
		if err := s.cache.Invalidate(ctx, c.touched...); err != nil {
			s.logger.Warn("inventory balance cache invalidation failed", slog.String("op", c.op), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		meta := c.meta
		if meta == nil {
			meta = map[string]any{}
		}
		meta["movements"] = c.movements
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  c.actor,
			Action:   "inventory:" + c.op,
			Entity:   "inventory",
			EntityID: c.entityID,
			Meta:     meta,
			At:       s.now(),
		}); err != nil {
			s.logger.Error("inventory audit failed", slog.String("op", c.op), slog.Any("error", err))
		}
	}
	s.checkLowStock(ctx, c)
}

func (s *Service) checkLowStock(ctx context.Context, c committed) {
	if s.notifier == nil || len(c.lowered) == 0 {
		return
	}
	type pair struct{ item, warehouse string }
	seen := make(map[pair]bool, len(c.lowered))
	for _, key := range c.lowered {
		p := pair{item: key.ItemID, warehouse: key.WarehouseID}
		if seen[p] {
			continue
		}
		seen[p] = true
		item := c.items[key.ItemID]
		threshold, ok := item.MinStock[key.WarehouseID]
		if !ok {
			continue
		}
		avail, err := s.repo.WarehouseAvailable(ctx, key.ItemID, key.WarehouseID)
		if err != nil {
			s.logger.Warn("inventory low stock check failed", slog.String("item_id", key.ItemID), slog.Any("error", err))
			continue
		}
		if !avail.LessThan(threshold) {
			continue
		}
		evt := LowStockEvent{
			ItemID:      key.ItemID,
			SKU:         item.SKU,
			WarehouseID: key.WarehouseID,
			Available:   avail,
			Threshold:   threshold,
			At:          s.now(),
		}
		if err := s.notifier.NotifyLowStock(ctx, evt); err != nil {
			s.logger.Warn("inventory low stock notify failed", slog.String("item_id", key.ItemID), slog.Any("error", err))
		}
	}
}

func (s *Service) newMovement(t MovementType, key BalanceKey, qty decimal.Decimal, unit Unit, ref *Reference, note, actor string) Movement {
	var r *Reference
	if ref != nil {
		cp := *ref
		r = &cp
	}
	return Movement{
		ID:          s.newID(),
		Type:        t,
		ItemID:      key.ItemID,
		WarehouseID: key.WarehouseID,
		LocationID:  key.LocationID,
		Qty:         qty,
		Unit:        unit,
		Note:        note,
		Ref:         r,
		CreatedAt:   s.now(),
		CreatedBy:   actor,
	}
}

func withLine(err error, line int) error {
	var e *Error
	if errors.As(err, &e) && e.Line == 0 && e.Kind != KindInternal {
		cp := *e
		cp.Line = line
		return &cp
	}
	return err
}

func sortedBalances(m map[BalanceKey]Balance) []Balance {
	out := make([]Balance, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().less(out[j].Key()) })
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 500:
		return 500
	}
	return limit
}
