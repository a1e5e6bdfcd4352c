package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

// AuctionEventRow es la fila aplanada que se inserta en ClickHouse por cada
// evento de integración consumido.
type AuctionEventRow struct {
	Seq        int64
	AuctionID  uuid.UUID
	EventType  string
	Seller     string
	Status     string
	Make       string
	Model      string
	Year       int
	ItemSold   bool
	SoldAmount *int64
	EventTime  time.Time
}

// DailyAuctionTrend agrega actividad por día.
type DailyAuctionTrend struct {
	Day           time.Time
	CreatedCount  uint64
	FinishedCount uint64
	SoldCount     uint64
}

// AuctionAnalyticsRepo vuelca eventos de subastas a ClickHouse para analítica.
type AuctionAnalyticsRepo struct {
	db *sql.DB
}

func NewAuctionAnalyticsRepo(addr string, dbName string) (*AuctionAnalyticsRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &AuctionAnalyticsRepo{db: conn}, nil
}

// LogBatch inserta un lote de eventos. ClickHouse rinde mejor con lotes.
func (r *AuctionAnalyticsRepo) LogBatch(ctx context.Context, rows []AuctionEventRow) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO auction_events (seq, auction_id, event_type, seller, status, make, model, year, item_sold, sold_amount, event_time)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(
			ctx,
			row.Seq,
			row.AuctionID,
			row.EventType,
			row.Seller,
			row.Status,
			row.Make,
			row.Model,
			row.Year,
			row.ItemSold,
			row.SoldAmount,
			row.EventTime,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for auction %s: %w", row.AuctionID, err)
		}
	}

	return tx.Commit()
}

// LogEvent inserta un único evento.
func (r *AuctionAnalyticsRepo) LogEvent(ctx context.Context, row AuctionEventRow) error {
	return r.LogBatch(ctx, []AuctionEventRow{row})
}

// GetDailyTrend devuelve, por día, cuántas subastas se crearon, terminaron y
// se vendieron en el rango indicado.
func (r *AuctionAnalyticsRepo) GetDailyTrend(ctx context.Context, start, end time.Time) ([]DailyAuctionTrend, error) {
	query := `
		SELECT
			toStartOfDay(event_time) AS day,
			countIf(event_type = 'AuctionCreated') AS created,
			countIf(event_type = 'AuctionFinished') AS finished,
			countIf(event_type = 'AuctionFinished' AND item_sold) AS sold
		FROM auction_events
		WHERE event_time BETWEEN ? AND ?
		GROUP BY day
		ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []DailyAuctionTrend
	for rows.Next() {
		var trend DailyAuctionTrend
		if err := rows.Scan(&trend.Day, &trend.CreatedCount, &trend.FinishedCount, &trend.SoldCount); err != nil {
			return nil, err
		}
		trends = append(trends, trend)
	}
	return trends, rows.Err()
}

// GetSellThroughRate devuelve la proporción de subastas terminadas cuyo
// precio de reserva se alcanzó, en el rango indicado.
func (r *AuctionAnalyticsRepo) GetSellThroughRate(ctx context.Context, start, end time.Time) (float64, error) {
	query := `
		SELECT
			countIf(item_sold) / count() AS rate
		FROM auction_events
		WHERE event_type = 'AuctionFinished' AND event_time BETWEEN ? AND ?
	`
	var rate sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, query, start, end).Scan(&rate); err != nil {
		return 0, err
	}
	if !rate.Valid {
		return 0, nil // sin subastas terminadas en el rango
	}
	return rate.Float64, nil
}

// InitSchema crea la tabla en ClickHouse si no existe.
// Se particiona por mes y se ordena por campos comunes de consulta. El seq
// del ledger permite deduplicar eventos reenviados (entrega al menos una vez).
func (r *AuctionAnalyticsRepo) InitSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS auction_events (
			seq         Int64,
			auction_id  UUID,
			event_type  String,
			seller      String,
			status      String,
			make        String,
			model       String,
			year        Int32,
			item_sold   Bool,
			sold_amount Nullable(Int64),
			event_time  DateTime64(3)
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (event_type, auction_id, seq);
	`
	_, err := r.db.Exec(query)
	return err
}
