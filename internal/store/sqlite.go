package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/signal"
	"nifty-strangler/pkg/utils"
)

const dayLayout = "2006-01-02"

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	runTimes map[string]time.Time
	logger   zerolog.Logger
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer: the engine tick. CLI readers open their own handle.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:       db,
		runTimes: make(map[string]time.Time),
		logger:   logging.WithComponent(logger, "store"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Strangle positions, append-only apart from the one-shot exit fields
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		expiry DATETIME NOT NULL,
		call_strike REAL NOT NULL,
		put_strike REAL NOT NULL,
		call_symbol TEXT,
		put_symbol TEXT,
		lots INTEGER NOT NULL,
		lot_size INTEGER NOT NULL,
		entry_call_premium REAL NOT NULL,
		entry_put_premium REAL NOT NULL,
		entry_spot REAL,
		entry_at DATETIME NOT NULL,
		entry_call_delta REAL,
		entry_put_delta REAL,
		slot INTEGER NOT NULL,
		max_profit REAL NOT NULL,
		trade_window TEXT,
		status TEXT NOT NULL,
		exit_call_premium REAL,
		exit_put_premium REAL,
		exit_at DATETIME,
		exit_reason TEXT,
		realized_pnl REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-window trade counters for a session day
	CREATE TABLE IF NOT EXISTS window_trades (
		day TEXT NOT NULL,
		trade_window TEXT NOT NULL,
		trades INTEGER NOT NULL,
		last_trade_at DATETIME,
		PRIMARY KEY (day, trade_window)
	);

	-- Capital slots currently held by open positions
	CREATE TABLE IF NOT EXISTS capital_slots (
		slot INTEGER PRIMARY KEY,
		position_id TEXT NOT NULL UNIQUE
	);

	-- Entries made per session day
	CREATE TABLE IF NOT EXISTS capital_days (
		day TEXT PRIMARY KEY,
		entries INTEGER NOT NULL
	);

	-- Signal transitions
	CREATE TABLE IF NOT EXISTS signal_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		at DATETIME NOT NULL,
		started_at DATETIME,
		held_ms INTEGER NOT NULL,
		required_ms INTEGER NOT NULL,
		reached INTEGER DEFAULT 0,
		observed REAL,
		reference REAL,
		trade_window TEXT
	);

	-- Legs already bought back on an exit that has not completed
	CREATE TABLE IF NOT EXISTS exit_legs (
		position_id TEXT NOT NULL,
		leg TEXT NOT NULL,
		order_id TEXT,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		filled_at DATETIME,
		reason TEXT,
		PRIMARY KEY (position_id, leg)
	);

	-- Audit log of entries, exits and unwinds
	CREATE TABLE IF NOT EXISTS trade_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		action TEXT NOT NULL,
		position_id TEXT,
		details TEXT
	);

	-- Intraday ATM straddle observations
	CREATE TABLE IF NOT EXISTS vwap_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		at DATETIME NOT NULL,
		price REAL NOT NULL,
		weight REAL NOT NULL
	);

	-- Run markers
	CREATE TABLE IF NOT EXISTS run_status (
		kind TEXT PRIMARY KEY,
		last_run DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
	CREATE INDEX IF NOT EXISTS idx_positions_entry_at ON positions(entry_at);
	CREATE INDEX IF NOT EXISTS idx_signal_events_at ON signal_events(at);
	CREATE INDEX IF NOT EXISTS idx_trade_log_at ON trade_log(at);
	CREATE INDEX IF NOT EXISTS idx_vwap_points_day ON vwap_points(day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func dayKey(t time.Time) string {
	return utils.SessionDate(t).Format(dayLayout)
}

func local(t time.Time) time.Time {
	return t.In(utils.IndiaLocation)
}

func dbError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, errors.ErrDatabaseError, err)
}

// ============================================================================
// Positions Methods
// ============================================================================

// SavePosition inserts or updates a position.
func (s *SQLiteStore) SavePosition(ctx context.Context, p models.Position) error {
	var exitAt interface{}
	if p.ExitAt != nil {
		exitAt = *p.ExitAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, expiry, call_strike, put_strike, call_symbol, put_symbol, lots, lot_size,
			entry_call_premium, entry_put_premium, entry_spot, entry_at, entry_call_delta, entry_put_delta, slot,
			max_profit, trade_window, status, exit_call_premium, exit_put_premium, exit_at, exit_reason, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			exit_call_premium = excluded.exit_call_premium,
			exit_put_premium = excluded.exit_put_premium,
			exit_at = excluded.exit_at,
			exit_reason = excluded.exit_reason,
			realized_pnl = excluded.realized_pnl,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Symbol, p.Expiry, p.CallStrike, p.PutStrike, p.CallSymbol, p.PutSymbol, p.Lots, p.LotSize,
		p.EntryCallPremium, p.EntryPutPremium, p.EntrySpot, p.EntryAt, p.EntryCallDelta, p.EntryPutDelta, p.Slot,
		p.MaxProfit, p.Window, string(p.Status), p.ExitCallPremium, p.ExitPutPremium, exitAt, string(p.ExitReason), p.RealizedPnL)
	if err != nil {
		return dbError("save position", err)
	}
	return nil
}

const positionColumns = `id, symbol, expiry, call_strike, put_strike, call_symbol, put_symbol, lots, lot_size,
	entry_call_premium, entry_put_premium, entry_spot, entry_at, entry_call_delta, entry_put_delta, slot,
	max_profit, trade_window, status, exit_call_premium, exit_put_premium, exit_at, exit_reason, realized_pnl`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (models.Position, error) {
	var (
		p          models.Position
		callSymbol sql.NullString
		putSymbol  sql.NullString
		window     sql.NullString
		status     string
		exitCall   sql.NullFloat64
		exitPut    sql.NullFloat64
		exitAt     sql.NullTime
		exitReason sql.NullString
		realized   sql.NullFloat64
	)
	err := row.Scan(&p.ID, &p.Symbol, &p.Expiry, &p.CallStrike, &p.PutStrike, &callSymbol, &putSymbol, &p.Lots, &p.LotSize,
		&p.EntryCallPremium, &p.EntryPutPremium, &p.EntrySpot, &p.EntryAt, &p.EntryCallDelta, &p.EntryPutDelta, &p.Slot,
		&p.MaxProfit, &window, &status, &exitCall, &exitPut, &exitAt, &exitReason, &realized)
	if err != nil {
		return models.Position{}, err
	}

	p.Expiry = local(p.Expiry)
	p.EntryAt = local(p.EntryAt)
	p.CallSymbol = callSymbol.String
	p.PutSymbol = putSymbol.String
	p.Window = window.String
	p.Status = models.PositionStatus(status)
	p.ExitCallPremium = exitCall.Float64
	p.ExitPutPremium = exitPut.Float64
	if exitAt.Valid {
		t := local(exitAt.Time)
		p.ExitAt = &t
	}
	p.ExitReason = models.ExitReason(exitReason.String)
	p.RealizedPnL = realized.Float64
	return p, nil
}

// GetPosition retrieves one position by id.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (models.Position, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+positionColumns+" FROM positions WHERE id = ?", id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return models.Position{}, errors.Wrapf(errors.ErrPositionNotFound, "position %s", id)
	}
	if err != nil {
		return models.Position{}, dbError("get position", err)
	}
	return p, nil
}

// GetPositions retrieves positions ordered by entry time.
func (s *SQLiteStore) GetPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE 1=1"
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY entry_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query positions", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, dbError("scan position", err)
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// ============================================================================
// Window State Methods
// ============================================================================

// SaveWindowState replaces the counters stored for ws.Day.
func (s *SQLiteStore) SaveWindowState(ctx context.Context, ws signal.WindowState) error {
	if ws.Day.IsZero() {
		return nil
	}
	day := dayKey(ws.Day)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM window_trades WHERE day = ?", day); err != nil {
		return dbError("clear window state", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO window_trades (day, trade_window, trades, last_trade_at) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return dbError("prepare statement", err)
	}
	defer stmt.Close()

	var last interface{}
	if ws.LastTradeAt != nil {
		last = *ws.LastTradeAt
	}
	for name, n := range ws.Trades {
		if _, err := stmt.ExecContext(ctx, day, name, n, last); err != nil {
			return dbError("insert window state", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("commit transaction", err)
	}
	return nil
}

// LoadWindowState returns the counters stored for day. A day without trades
// yields an empty state for that day.
func (s *SQLiteStore) LoadWindowState(ctx context.Context, day time.Time) (signal.WindowState, error) {
	ws := signal.WindowState{Day: utils.SessionDate(day), Trades: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_window, trades, last_trade_at FROM window_trades WHERE day = ?
	`, dayKey(day))
	if err != nil {
		return ws, dbError("query window state", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			n    int
			last sql.NullTime
		)
		if err := rows.Scan(&name, &n, &last); err != nil {
			return ws, dbError("scan window state", err)
		}
		ws.Trades[name] = n
		ws.DayTrades += n
		if last.Valid {
			t := local(last.Time)
			if ws.LastTradeAt == nil || t.After(*ws.LastTradeAt) {
				ws.LastTradeAt = &t
			}
		}
	}

	return ws, rows.Err()
}

// ============================================================================
// Capital Methods
// ============================================================================

// SaveCapitalState replaces the slot table and the entry count for cs.Day.
func (s *SQLiteStore) SaveCapitalState(ctx context.Context, cs CapitalState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM capital_slots"); err != nil {
		return dbError("clear capital slots", err)
	}

	slots := make([]int, 0, len(cs.Slots))
	for slot := range cs.Slots {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		id := cs.Slots[slot]
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO capital_slots (slot, position_id) VALUES (?, ?)", slot, id); err != nil {
			return dbError("insert capital slot", err)
		}
	}

	if !cs.Day.IsZero() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO capital_days (day, entries) VALUES (?, ?)
		`, dayKey(cs.Day), cs.EntriesToday); err != nil {
			return dbError("save capital day", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("commit transaction", err)
	}
	return nil
}

// LoadCapitalState returns the stored slots and the most recent day's entry count.
func (s *SQLiteStore) LoadCapitalState(ctx context.Context) (CapitalState, error) {
	cs := CapitalState{Slots: make(map[int]string)}

	rows, err := s.db.QueryContext(ctx, "SELECT slot, position_id FROM capital_slots ORDER BY slot")
	if err != nil {
		return cs, dbError("query capital slots", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			slot int
			id   string
		)
		if err := rows.Scan(&slot, &id); err != nil {
			return cs, dbError("scan capital slot", err)
		}
		cs.Slots[slot] = id
	}
	if err := rows.Err(); err != nil {
		return cs, dbError("iterate capital slots", err)
	}

	var day string
	err = s.db.QueryRowContext(ctx, `
		SELECT day, entries FROM capital_days ORDER BY day DESC LIMIT 1
	`).Scan(&day, &cs.EntriesToday)
	if err != nil && err != sql.ErrNoRows {
		return cs, dbError("query capital day", err)
	}
	if day != "" {
		d, err := time.ParseInLocation(dayLayout, day, utils.IndiaLocation)
		if err != nil {
			return cs, errors.NewDataError("capital", day, "bad stored day", err)
		}
		cs.Day = d
	}

	return cs, nil
}

// ============================================================================
// Signal Event Methods
// ============================================================================

// SaveSignalEvent appends a signal transition.
func (s *SQLiteStore) SaveSignalEvent(ctx context.Context, ev signal.Event) error {
	var startedAt interface{}
	if !ev.StartedAt.IsZero() {
		startedAt = ev.StartedAt
	}
	reached := 0
	if ev.Reached {
		reached = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_events (kind, at, started_at, held_ms, required_ms, reached, observed, reference, trade_window)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.Kind), ev.At, startedAt, ev.Held.Milliseconds(), ev.Required.Milliseconds(), reached,
		ev.Observed, ev.Reference, ev.Window)
	if err != nil {
		return dbError("save signal event", err)
	}
	return nil
}

// OnSignalEvent persists tracker transitions. Failures are logged, not returned.
func (s *SQLiteStore) OnSignalEvent(ev signal.Event) {
	if err := s.SaveSignalEvent(context.Background(), ev); err != nil {
		s.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("signal event not persisted")
	}
}

// GetSignalEvents retrieves signal transitions, newest first.
func (s *SQLiteStore) GetSignalEvents(ctx context.Context, filter EventFilter) ([]SignalEventRecord, error) {
	query := "SELECT id, kind, at, started_at, held_ms, required_ms, reached, observed, reference, trade_window FROM signal_events WHERE 1=1"
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if !filter.StartDate.IsZero() {
		query += " AND at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query signal events", err)
	}
	defer rows.Close()

	var events []SignalEventRecord
	for rows.Next() {
		var (
			r          SignalEventRecord
			kind       string
			startedAt  sql.NullTime
			heldMs     int64
			requiredMs int64
			reached    int
			window     sql.NullString
		)
		if err := rows.Scan(&r.ID, &kind, &r.At, &startedAt, &heldMs, &requiredMs, &reached, &r.Observed, &r.Reference, &window); err != nil {
			return nil, dbError("scan signal event", err)
		}
		r.Kind = signal.EventKind(kind)
		r.At = local(r.At)
		if startedAt.Valid {
			r.StartedAt = local(startedAt.Time)
		}
		r.Held = time.Duration(heldMs) * time.Millisecond
		r.Required = time.Duration(requiredMs) * time.Millisecond
		r.Reached = reached == 1
		r.Window = window.String
		events = append(events, r)
	}

	return events, rows.Err()
}

// ============================================================================
// Exit Leg Methods
// ============================================================================

// SaveExitLeg records a leg filled on an incomplete exit.
func (s *SQLiteStore) SaveExitLeg(ctx context.Context, leg ExitLeg) error {
	var filledAt interface{}
	if !leg.Fill.FilledAt.IsZero() {
		filledAt = leg.Fill.FilledAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO exit_legs (position_id, leg, order_id, price, quantity, filled_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, leg.PositionID, string(leg.Type), leg.Fill.OrderID, leg.Fill.Price, leg.Fill.Quantity, filledAt, string(leg.Reason))
	if err != nil {
		return dbError("save exit leg", err)
	}
	return nil
}

// GetExitLegs returns every recorded exit leg ordered by position.
func (s *SQLiteStore) GetExitLegs(ctx context.Context) ([]ExitLeg, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, leg, order_id, price, quantity, filled_at, reason FROM exit_legs
		ORDER BY position_id, leg
	`)
	if err != nil {
		return nil, dbError("query exit legs", err)
	}
	defer rows.Close()

	var legs []ExitLeg
	for rows.Next() {
		var (
			l        ExitLeg
			typ      string
			orderID  sql.NullString
			filledAt sql.NullTime
			reason   sql.NullString
		)
		if err := rows.Scan(&l.PositionID, &typ, &orderID, &l.Fill.Price, &l.Fill.Quantity, &filledAt, &reason); err != nil {
			return nil, dbError("scan exit leg", err)
		}
		l.Type = models.OptionType(typ)
		l.Fill.OrderID = orderID.String
		if filledAt.Valid {
			l.Fill.FilledAt = local(filledAt.Time)
		}
		l.Reason = models.ExitReason(reason.String)
		legs = append(legs, l)
	}

	return legs, rows.Err()
}

// ClearExitLegs drops the exit legs of a position once its exit is complete.
func (s *SQLiteStore) ClearExitLegs(ctx context.Context, positionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM exit_legs WHERE position_id = ?", positionID); err != nil {
		return dbError("clear exit legs", err)
	}
	return nil
}

// ============================================================================
// Trade Log Methods
// ============================================================================

// LogTrade appends an audit entry.
func (s *SQLiteStore) LogTrade(ctx context.Context, entry models.TradeLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_log (at, action, position_id, details) VALUES (?, ?, ?, ?)
	`, entry.At, string(entry.Action), entry.PositionID, entry.Details)
	if err != nil {
		return dbError("log trade", err)
	}
	return nil
}

// GetTradeLog retrieves audit entries, newest first.
func (s *SQLiteStore) GetTradeLog(ctx context.Context, filter TradeLogFilter) ([]models.TradeLogEntry, error) {
	query := "SELECT id, at, action, position_id, details FROM trade_log WHERE 1=1"
	args := []interface{}{}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}
	if filter.PositionID != "" {
		query += " AND position_id = ?"
		args = append(args, filter.PositionID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query trade log", err)
	}
	defer rows.Close()

	var entries []models.TradeLogEntry
	for rows.Next() {
		var (
			e          models.TradeLogEntry
			action     string
			positionID sql.NullString
			details    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.At, &action, &positionID, &details); err != nil {
			return nil, dbError("scan trade log", err)
		}
		e.At = local(e.At)
		e.Action = models.TradeAction(action)
		e.PositionID = positionID.String
		e.Details = details.String
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ============================================================================
// Reference Methods
// ============================================================================

// SaveReferencePoint appends a straddle observation.
func (s *SQLiteStore) SaveReferencePoint(ctx context.Context, p signal.ReferencePoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vwap_points (day, at, price, weight) VALUES (?, ?, ?, ?)
	`, dayKey(p.At), p.At, p.Price, p.Weight)
	if err != nil {
		return dbError("save reference point", err)
	}
	return nil
}

// GetReferencePoints returns the observations of one session day in time order.
func (s *SQLiteStore) GetReferencePoints(ctx context.Context, day time.Time) ([]signal.ReferencePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, price, weight FROM vwap_points WHERE day = ? ORDER BY at ASC, id ASC
	`, dayKey(day))
	if err != nil {
		return nil, dbError("query reference points", err)
	}
	defer rows.Close()

	var points []signal.ReferencePoint
	for rows.Next() {
		var p signal.ReferencePoint
		if err := rows.Scan(&p.At, &p.Price, &p.Weight); err != nil {
			return nil, dbError("scan reference point", err)
		}
		p.At = local(p.At)
		points = append(points, p)
	}

	return points, rows.Err()
}

// ============================================================================
// Run Marker Methods
// ============================================================================

// GetLastRun returns the last recorded time for a run kind.
func (s *SQLiteStore) GetLastRun(kind string) time.Time {
	s.mu.RLock()
	if t, ok := s.runTimes[kind]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastRun time.Time
	err := s.db.QueryRow(`
		SELECT last_run FROM run_status WHERE kind = ?
	`, kind).Scan(&lastRun)
	if err != nil {
		return time.Time{}
	}
	lastRun = local(lastRun)

	s.mu.Lock()
	s.runTimes[kind] = lastRun
	s.mu.Unlock()

	return lastRun
}

// SetLastRun records the last time for a run kind.
func (s *SQLiteStore) SetLastRun(kind string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO run_status (kind, last_run, updated_at)
		VALUES (?, ?, ?)
	`, kind, t, time.Now())
	if err != nil {
		return dbError("set last run", err)
	}

	s.mu.Lock()
	s.runTimes[kind] = t
	s.mu.Unlock()

	return nil
}

var (
	_ DataStore        = (*SQLiteStore)(nil)
	_ signal.EventSink = (*SQLiteStore)(nil)
)
