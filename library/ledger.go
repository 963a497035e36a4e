package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Journal receives every committed lending transaction. LendingService calls
// Record after all checks pass and before mutating anything, so a Record
// error leaves the catalog and the accounts untouched.
type Journal interface {
	Record(ctx context.Context, r Receipt) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, Receipt) error { return nil }

// Ledger is a Journal backed by SQLite. It keeps an append-only history of
// loans and reservations. It does not restore lending state on startup: rows
// are tagged with the session that wrote them and only that session closes
// them.
type Ledger struct {
	db      *sql.DB
	session uuid.UUID

	openLoanStmt        *sql.Stmt
	openReservationStmt *sql.Stmt
}

// NewLedger opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewLedger(dbPath string) (*Ledger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	l := &Ledger{db: db, session: uuid.New()}
	if err := l.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Session identifies the rows written by this process.
func (l *Ledger) Session() uuid.UUID { return l.session }

// Close releases prepared statements and closes the DB.
func (l *Ledger) Close() error {
	if l.openLoanStmt != nil {
		l.openLoanStmt.Close()
	}
	if l.openReservationStmt != nil {
		l.openReservationStmt.Close()
	}
	return l.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session TEXT NOT NULL,
            txn_id TEXT NOT NULL UNIQUE,
            item_key TEXT NOT NULL,
            holder TEXT NOT NULL,
            opened_at INTEGER NOT NULL,
            closed_at INTEGER,
            outcome TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session TEXT NOT NULL,
            txn_id TEXT NOT NULL UNIQUE,
            item_key TEXT NOT NULL,
            holder TEXT NOT NULL,
            opened_at INTEGER NOT NULL,
            closed_at INTEGER,
            outcome TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_loans_item ON loans(item_key);`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_item ON reservations(item_key);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (l *Ledger) prepareStatements() error {
	var err error
	if l.openLoanStmt, err = l.db.Prepare(`INSERT INTO loans(session,txn_id,item_key,holder,opened_at) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	if l.openReservationStmt, err = l.db.Prepare(`INSERT INTO reservations(session,txn_id,item_key,holder,opened_at) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// Ledger outcomes stored in the outcome column.
const (
	OutcomeReturned  = "returned"
	OutcomeFulfilled = "fulfilled"
	OutcomeCancelled = "cancelled"
	OutcomeWithdrawn = "withdrawn"
)

// Record writes r in one transaction.
func (l *Ledger) Record(ctx context.Context, r Receipt) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch r.Op {
	case OpBorrow:
		if r.Converted {
			if err := l.close(ctx, tx, "reservations", r, OutcomeFulfilled); err != nil {
				return err
			}
		}
		if _, err := tx.StmtContext(ctx, l.openLoanStmt).ExecContext(ctx, l.session.String(), r.TxnID.String(), r.ItemKey, r.Holder, r.At.UnixNano()); err != nil {
			return fmt.Errorf("record loan: %w", err)
		}
	case OpReturn:
		if err := l.close(ctx, tx, "loans", r, OutcomeReturned); err != nil {
			return err
		}
	case OpReserve:
		if _, err := tx.StmtContext(ctx, l.openReservationStmt).ExecContext(ctx, l.session.String(), r.TxnID.String(), r.ItemKey, r.Holder, r.At.UnixNano()); err != nil {
			return fmt.Errorf("record reservation: %w", err)
		}
	case OpCancelReservation:
		if err := l.close(ctx, tx, "reservations", r, OutcomeCancelled); err != nil {
			return err
		}
	case OpWithdraw:
		if err := l.close(ctx, tx, "loans", r, OutcomeWithdrawn); err != nil {
			return err
		}
		if err := l.close(ctx, tx, "reservations", r, OutcomeWithdrawn); err != nil {
			return err
		}
	default:
		return fmt.Errorf("record: unknown operation %q", r.Op)
	}

	return tx.Commit()
}

// close marks the open row for (item, holder) written by this session.
// Rows opened before this session started are left alone.
func (l *Ledger) close(ctx context.Context, tx *sql.Tx, table string, r Receipt, outcome string) error {
	q := fmt.Sprintf(`UPDATE %s SET closed_at=?, outcome=? WHERE session=? AND item_key=? AND holder=? AND closed_at IS NULL`, table)
	if _, err := tx.ExecContext(ctx, q, r.At.UnixNano(), outcome, l.session.String(), r.ItemKey, r.Holder); err != nil {
		return fmt.Errorf("close %s row: %w", table, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// LedgerRecord is one loan or reservation as stored in the ledger.
type LedgerRecord struct {
	Kind     string // "loan" or "reservation"
	TxnID    string
	ItemKey  string
	Holder   string
	OpenedAt time.Time
	ClosedAt time.Time // zero while still open
	Outcome  string
}

// Open reports whether the loan or reservation has not been closed yet.
func (r LedgerRecord) Open() bool { return r.ClosedAt.IsZero() }

// ItemHistory returns every loan and reservation of itemKey, oldest first.
func (l *Ledger) ItemHistory(ctx context.Context, itemKey string) ([]LedgerRecord, error) {
	return l.history(ctx, `item_key = ?`, itemKey)
}

// HolderHistory returns every loan and reservation of holder, oldest first.
func (l *Ledger) HolderHistory(ctx context.Context, holder string) ([]LedgerRecord, error) {
	return l.history(ctx, `holder = ?`, holder)
}

func (l *Ledger) history(ctx context.Context, where string, arg any) ([]LedgerRecord, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT 'loan', txn_id, item_key, holder, opened_at, closed_at, COALESCE(outcome,'') FROM loans WHERE %[1]s
        UNION ALL
        SELECT 'reservation', txn_id, item_key, holder, opened_at, closed_at, COALESCE(outcome,'') FROM reservations WHERE %[1]s
        ORDER BY 5, 2;`, where), arg, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerRecord
	for rows.Next() {
		var (
			rec    LedgerRecord
			opened int64
			closed sql.NullInt64
		)
		if err := rows.Scan(&rec.Kind, &rec.TxnID, &rec.ItemKey, &rec.Holder, &opened, &closed, &rec.Outcome); err != nil {
			return nil, err
		}
		rec.OpenedAt = time.Unix(0, opened)
		if closed.Valid {
			rec.ClosedAt = time.Unix(0, closed.Int64)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
