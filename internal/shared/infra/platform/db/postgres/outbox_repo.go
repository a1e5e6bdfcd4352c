package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OutboxRepoPostgres implementa el ledger de outbox sobre Postgres. El claim
// usa FOR UPDATE SKIP LOCKED para que varias instancias de relay no se pisen.
type OutboxRepoPostgres struct {
	db         *sql.DB
	Visibility time.Duration
	Base       time.Duration
	Max        time.Duration
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{
		db:         db,
		Visibility: 30 * time.Second,
		Base:       time.Second,
		Max:        time.Minute,
	}
}

// InitOutboxPostgres crea la tabla outbox y su índice de drenado.
func InitOutboxPostgres(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		claimed_at TIMESTAMPTZ
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_status_seq ON outbox(status, seq)`)
	return err
}

// AppendOutboxTx inserta la entrada dentro de la transacción del repositorio
// de dominio; si la transacción aborta, la entrada nunca existe.
func AppendOutboxTx(ctx context.Context, tx *sql.Tx, entry sharedDomain.OutboxEntry) error {
	payloadBytes, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at, status, attempts, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7)`,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType,
		payloadBytes, entry.CreatedAt.UTC(), entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// FetchPendingOutbox reclama hasta limit entradas en orden de secuencia,
// respetando el orden por agregado (ver adapter SQLite para la invariante).
func (r *OutboxRepoPostgres) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.Visibility)

	const query = `
		WITH claimed AS (
			SELECT o.seq
			FROM outbox o
			WHERE ((o.status = 'pending' AND o.next_attempt_at <= $1)
			    OR (o.status = 'in_flight' AND o.claimed_at <= $2))
			AND NOT EXISTS (
				SELECT 1 FROM outbox prev
				WHERE prev.aggregate_id = o.aggregate_id
				  AND prev.seq < o.seq
				  AND prev.status != 'delivered'
				  AND NOT ((prev.status = 'pending' AND prev.next_attempt_at <= $1)
				        OR (prev.status = 'in_flight' AND prev.claimed_at <= $2))
			)
			ORDER BY o.seq
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox
		SET status = 'in_flight', claimed_at = $1
		WHERE seq IN (SELECT seq FROM claimed)
		RETURNING seq, id, aggregate_type, aggregate_id, event_type, payload, created_at, attempts`

	rows, err := r.db.QueryContext(ctx, query, now, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []sharedDomain.OutboxEntry
	for rows.Next() {
		var entry sharedDomain.OutboxEntry
		var id uuid.UUID
		var payloadBytes []byte

		if err := rows.Scan(&entry.Seq, &id, &entry.AggregateType, &entry.AggregateID,
			&entry.EventType, &payloadBytes, &entry.CreatedAt, &entry.Attempts); err != nil {
			return nil, err
		}
		entry.ID = id

		var payload map[string]interface{}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON payload in outbox row %d: %w", entry.Seq, err)
		}
		entry.Payload = payload
		entry.Status = sharedDomain.OutboxInFlight

		entries = append(entries, entry)
	}

	// El UPDATE devuelve filas sin orden garantizado; reordenamos por seq.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Seq > entries[j].Seq; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}

	return entries, rows.Err()
}

// MarkOutboxDelivered es idempotente (ver adapter SQLite).
func (r *OutboxRepoPostgres) MarkOutboxDelivered(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'delivered', claimed_at = NULL WHERE seq = $1`, seq)
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

// MarkOutboxFailed devuelve la entrada a pending con backoff exponencial acotado.
func (r *OutboxRepoPostgres) MarkOutboxFailed(ctx context.Context, seq int64) error {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE outbox
		 SET status = 'pending', attempts = attempts + 1, claimed_at = NULL
		 WHERE seq = $1 AND status != 'delivered'
		 RETURNING attempts`, seq,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return nil // entregada o inexistente: nada que reintentar
	}
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %d as failed: %w", seq, err)
	}

	nextAttempt := time.Now().UTC().Add(sharedUtils.Backoff(r.Base, r.Max, attempts))
	if _, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET next_attempt_at = $1 WHERE seq = $2`, nextAttempt, seq,
	); err != nil {
		return fmt.Errorf("failed to set backoff for outbox entry %d: %w", seq, err)
	}
	return nil
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxLedger = (*OutboxRepoPostgres)(nil)
