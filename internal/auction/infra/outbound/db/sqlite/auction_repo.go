package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedOutbox "github.com/davicafu/auctionlab/internal/shared/infra/platform/db/sqlite"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
)

type AuctionRepoSQLite struct {
	db *sql.DB
}

func NewAuctionRepoSQLite(db *sql.DB) *AuctionRepoSQLite {
	return &AuctionRepoSQLite{db: db}
}

const auctionColumns = `id, seller, reserve_price, current_high_bid, auction_end, status,
	make, model, year, color, mileage, image_url, created_at, updated_at`

// ------------------ CRUD + Outbox ------------------

// Create inserta subasta y entrada de outbox en una sola transacción.
func (r *AuctionRepoSQLite) Create(ctx context.Context, a *domain.Auction, entry sharedDomain.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO auctions (`+auctionColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID.String(), a.Seller, a.ReservePrice, a.CurrentHighBid, a.AuctionEnd.UTC(), string(a.Status),
		a.Item.Make, a.Item.Model, a.Item.Year, a.Item.Color, a.Item.Mileage, a.Item.ImageURL,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	); err != nil {
		return err
	}

	if err = sharedOutbox.AppendOutboxTx(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// Update aplica el snapshot con control optimista sobre updated_at y registra
// la entrada de outbox en la misma transacción.
func (r *AuctionRepoSQLite) Update(ctx context.Context, a *domain.Auction, expectedUpdatedAt time.Time, entry sharedDomain.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE auctions
		 SET status=?, current_high_bid=?, make=?, model=?, year=?, color=?, mileage=?, image_url=?, updated_at=?
		 WHERE id=? AND updated_at=?`,
		string(a.Status), a.CurrentHighBid,
		a.Item.Make, a.Item.Model, a.Item.Year, a.Item.Color, a.Item.Mileage, a.Item.ImageURL,
		a.UpdatedAt.UTC(), a.ID.String(), expectedUpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Distinguir fila inexistente de carrera perdida.
		var exists int
		if scanErr := tx.QueryRowContext(ctx,
			`SELECT 1 FROM auctions WHERE id=?`, a.ID.String()).Scan(&exists); scanErr == sql.ErrNoRows {
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
func (r *AuctionRepoSQLite) DeleteByID(ctx context.Context, id uuid.UUID, entry sharedDomain.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM auctions WHERE id=?`, id.String())
	if err != nil {
		return err
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

func (r *AuctionRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id.String())

	auction, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return auction, nil
}

// ListByCriteria traduce criterios neutrales a SQL. El orden siempre incluye
// un desempate para que la secuencia sea determinista y reanudable.
func (r *AuctionRepoSQLite) ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria, pagination sharedQuery.Pagination, sort sharedQuery.Sort) ([]*domain.Auction, error) {
	var conditions []string
	var args []interface{}

	if criteria != nil {
		for _, c := range criteria.ToConditions() {
			conditions = append(conditions, fmt.Sprintf("%s %s ?", c.Field, c.Op))
			args = append(args, c.Value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf(`SELECT `+auctionColumns+` FROM auctions %s ORDER BY %s LIMIT ? OFFSET ?`, where, orderBy)
	args = append(args, limit, offset)

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

// scanner abstrae sql.Row y sql.Rows para reutilizar el mapeo.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(s scanner) (*domain.Auction, error) {
	var a domain.Auction
	var idStr, status string
	var highBid sql.NullInt64

	if err := s.Scan(&idStr, &a.Seller, &a.ReservePrice, &highBid, &a.AuctionEnd, &status,
		&a.Item.Make, &a.Item.Model, &a.Item.Year, &a.Item.Color, &a.Item.Mileage, &a.Item.ImageURL,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	a.ID = parsedID
	a.Status = domain.Status(status)
	if highBid.Valid {
		v := highBid.Int64
		a.CurrentHighBid = &v
	}

	return &a, nil
}

// ------------------ Inicialización de DB ------------------

// InitSQLite crea las tablas auctions y outbox si no existen.
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS auctions (
            id TEXT PRIMARY KEY,
            seller TEXT NOT NULL,
            reserve_price INTEGER NOT NULL,
            current_high_bid INTEGER,
            auction_end DATETIME NOT NULL,
            status TEXT NOT NULL,
            make TEXT NOT NULL,
            model TEXT NOT NULL,
            year INTEGER NOT NULL,
            color TEXT NOT NULL,
            mileage INTEGER NOT NULL,
            image_url TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	return sharedOutbox.InitOutboxSQLite(db)
}

// Verificación en tiempo de compilación.
var _ domain.AuctionRepository = (*AuctionRepoSQLite)(nil)
