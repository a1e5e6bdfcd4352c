package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedOutbox "github.com/davicafu/auctionlab/internal/shared/infra/platform/db/postgres"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
)

type AuctionRepoPostgres struct {
	db *sql.DB
}

func NewAuctionRepoPostgres(db *sql.DB) *AuctionRepoPostgres {
	return &AuctionRepoPostgres{db: db}
}

const auctionColumns = `id, seller, reserve_price, current_high_bid, auction_end, status,
	make, model, year, color, mileage, image_url, created_at, updated_at`

// ------------------ CRUD + Outbox ------------------

// Create inserta subasta y entrada de outbox en una sola transacción.
func (r *AuctionRepoPostgres) Create(ctx context.Context, a *domain.Auction, entry sharedDomain.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO auctions (`+auctionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.Seller, a.ReservePrice, a.CurrentHighBid, a.AuctionEnd.UTC(), string(a.Status),
		a.Item.Make, a.Item.Model, a.Item.Year, a.Item.Color, a.Item.Mileage, a.Item.ImageURL,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if err = sharedOutbox.AppendOutboxTx(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// Update aplica el snapshot con control optimista sobre updated_at.
func (r *AuctionRepoPostgres) Update(ctx context.Context, a *domain.Auction, expectedUpdatedAt time.Time, entry sharedDomain.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE auctions
		 SET status=$1, current_high_bid=$2, make=$3, model=$4, year=$5, color=$6, mileage=$7, image_url=$8, updated_at=$9
		 WHERE id=$10 AND updated_at=$11`,
		string(a.Status), a.CurrentHighBid,
		a.Item.Make, a.Item.Model, a.Item.Year, a.Item.Color, a.Item.Mileage, a.Item.ImageURL,
		a.UpdatedAt.UTC(), a.ID, expectedUpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx,
			`SELECT 1 FROM auctions WHERE id=$1`, a.ID).Scan(&exists); scanErr == sql.ErrNoRows {
			err = domain.ErrAuctionNotFound
			return err
		}
		err = domain.ErrConflict
		return err
	}

	if err = sharedOutbox.AppendOutboxTx(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteByID elimina la subasta y registra la entrada de outbox en transacción.
func (r *AuctionRepoPostgres) DeleteByID(ctx context.Context, id uuid.UUID, entry sharedDomain.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM auctions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		err = domain.ErrAuctionNotFound
		return err
	}

	if err = sharedOutbox.AppendOutboxTx(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// ------------------ Lectura ------------------

func (r *AuctionRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id=$1`, id)

	auction, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return auction, nil
}

// Traduce criterios neutrales a SQL para Postgres ($1, $2...)
func (r *AuctionRepoPostgres) ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria, pagination sharedQuery.Pagination, sort sharedQuery.Sort) ([]*domain.Auction, error) {
	var clauses []string
	var args []interface{}

	if criteria != nil {
		for _, c := range criteria.ToConditions() {
			args = append(args, c.Value)
			clauses = append(clauses, fmt.Sprintf("%s %s $%d", c.Field, c.Op, len(args)))
		}
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	dir := sharedUtils.Ternary(sort.Desc, "DESC", "ASC")
	orderBy := "make ASC, id ASC"
	if sort.Field != "" {
		orderBy = fmt.Sprintf("%s %s", sort.Field, dir)
		if sort.SecondaryField != "" {
			orderBy += fmt.Sprintf(", %s %s", sort.SecondaryField, dir)
		}
	}

	limit := 100
	offset := 0
	if p, ok := pagination.(sharedQuery.OffsetPagination); ok {
		if p.Limit > 0 {
			limit = p.Limit
		}
		offset = p.Offset
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}

	return auctions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(s scanner) (*domain.Auction, error) {
	var a domain.Auction
	var status string
	var highBid sql.NullInt64

	if err := s.Scan(&a.ID, &a.Seller, &a.ReservePrice, &highBid, &a.AuctionEnd, &status,
		&a.Item.Make, &a.Item.Model, &a.Item.Year, &a.Item.Color, &a.Item.Mileage, &a.Item.ImageURL,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.Status = domain.Status(status)
	if highBid.Valid {
		v := highBid.Int64
		a.CurrentHighBid = &v
	}
	return &a, nil
}

// ------------------ Inicialización ------------------

func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS auctions (
		id UUID PRIMARY KEY,
		seller TEXT NOT NULL,
		reserve_price BIGINT NOT NULL,
		current_high_bid BIGINT,
		auction_end TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INT NOT NULL,
		color TEXT NOT NULL,
		mileage INT NOT NULL,
		image_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return err
	}

	return sharedOutbox.InitOutboxPostgres(db)
}

// Verificación en tiempo de compilación.
var _ domain.AuctionRepository = (*AuctionRepoPostgres)(nil)
