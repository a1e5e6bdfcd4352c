package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// OutboxRepoSQLite implementa el ledger de outbox sobre SQLite. La secuencia
// la asigna el AUTOINCREMENT de la tabla, por lo que es monótona global.
type OutboxRepoSQLite struct {
	db         *sql.DB
	Visibility time.Duration // cuánto puede estar una entrada in_flight antes de ser reclamable
	Base       time.Duration // backoff inicial tras un fallo
	Max        time.Duration // tope del backoff exponencial
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{
		db:         db,
		Visibility: 30 * time.Second,
		Base:       time.Second,
		Max:        time.Minute,
	}
}

// InitOutboxSQLite crea la tabla outbox y su índice de drenado.
func InitOutboxSQLite(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS outbox (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            aggregate_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            next_attempt_at DATETIME NOT NULL,
            claimed_at DATETIME
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_status_seq ON outbox(status, seq)`)
	return err
}

// AppendOutboxTx inserta la entrada dentro de la transacción del repositorio
// de dominio: si la transacción aborta, la entrada nunca existe. Este es el
// único punto de escritura del ledger en el camino síncrono.
func AppendOutboxTx(ctx context.Context, tx *sql.Tx, entry sharedDomain.OutboxEntry) error {
	payloadBytes, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at, status, attempts, next_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?)`,
		entry.ID.String(), entry.AggregateType, entry.AggregateID, entry.EventType,
		string(payloadBytes), entry.CreatedAt.UTC(), entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// FetchPendingOutbox reclama hasta limit entradas y las marca in_flight.
//
// Una entrada es reclamable si está pending con next_attempt_at vencido, o si
// lleva in_flight más que el timeout de visibilidad (instancia de relay caída).
// Nunca se reclama una entrada con una anterior del mismo agregado sin
// entregar y no reclamable ahora: eso preserva el orden por subasta incluso
// con varias instancias (las reclamables anteriores caen en este mismo lote,
// siempre por delante gracias al ORDER BY seq).
func (r *OutboxRepoSQLite) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.Visibility)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	const claimable = `((o.status = 'pending' AND o.next_attempt_at <= ?) OR (o.status = 'in_flight' AND o.claimed_at <= ?))`

	query := `
        SELECT o.seq, o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at, o.attempts
        FROM outbox o
        WHERE ` + claimable + `
        AND NOT EXISTS (
            SELECT 1 FROM outbox prev
            WHERE prev.aggregate_id = o.aggregate_id
              AND prev.seq < o.seq
              AND prev.status != 'delivered'
              AND NOT ((prev.status = 'pending' AND prev.next_attempt_at <= ?) OR (prev.status = 'in_flight' AND prev.claimed_at <= ?))
        )
        ORDER BY o.seq
        LIMIT ?`

	rows, err := tx.QueryContext(ctx, query, now, cutoff, now, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}

	var entries []sharedDomain.OutboxEntry
	for rows.Next() {
		var entry sharedDomain.OutboxEntry
		var idStr, payloadStr string

		if err = rows.Scan(&entry.Seq, &idStr, &entry.AggregateType, &entry.AggregateID,
			&entry.EventType, &payloadStr, &entry.CreatedAt, &entry.Attempts); err != nil {
			rows.Close()
			return nil, err
		}

		parsedID, perr := uuid.Parse(idStr)
		if perr != nil {
			rows.Close()
			err = fmt.Errorf("invalid UUID in outbox row: %w", perr)
			return nil, err
		}
		entry.ID = parsedID

		var payload map[string]interface{}
		if uerr := json.Unmarshal([]byte(payloadStr), &payload); uerr != nil {
			rows.Close()
			err = fmt.Errorf("invalid JSON payload in outbox row %d: %w", entry.Seq, uerr)
			return nil, err
		}
		entry.Payload = payload
		entry.Status = sharedDomain.OutboxInFlight

		entries = append(entries, entry)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(entries))
	args := []interface{}{now}
	for i, entry := range entries {
		placeholders[i] = "?"
		args = append(args, entry.Seq)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE outbox SET status = 'in_flight', claimed_at = ? WHERE seq IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkOutboxDelivered es idempotente: repetir sobre una entrada ya entregada
// vuelve a coincidir con la fila y no cambia nada. Solo una seq inexistente
// es un error.
func (r *OutboxRepoSQLite) MarkOutboxDelivered(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'delivered', claimed_at = NULL WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %d as delivered: %w", seq, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for outbox entry %d: %w", seq, err)
	}
	if rows == 0 {
		return fmt.Errorf("no outbox entry found with seq %d", seq)
	}
	return nil
}

// MarkOutboxFailed devuelve la entrada a pending con backoff exponencial
// acotado. Una entrada ya entregada no se toca.
func (r *OutboxRepoSQLite) MarkOutboxFailed(ctx context.Context, seq int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var attempts int
	var status string
	if err = tx.QueryRowContext(ctx,
		`SELECT attempts, status FROM outbox WHERE seq = ?`, seq,
	).Scan(&attempts, &status); err != nil {
		if err == sql.ErrNoRows {
			err = fmt.Errorf("no outbox entry found with seq %d", seq)
		}
		return err
	}

	if status == string(sharedDomain.OutboxDelivered) {
		return tx.Commit()
	}

	attempts++
	nextAttempt := time.Now().UTC().Add(sharedUtils.Backoff(r.Base, r.Max, attempts))

	if _, err = tx.ExecContext(ctx,
		`UPDATE outbox SET status = 'pending', attempts = ?, next_attempt_at = ?, claimed_at = NULL WHERE seq = ?`,
		attempts, nextAttempt, seq,
	); err != nil {
		return fmt.Errorf("failed to mark outbox entry %d as failed: %w", seq, err)
	}

	return tx.Commit()
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxLedger = (*OutboxRepoSQLite)(nil)
