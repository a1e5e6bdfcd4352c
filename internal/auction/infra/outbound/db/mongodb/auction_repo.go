package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedOutbox "github.com/davicafu/auctionlab/internal/shared/infra/platform/db/mongodb"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
)

// AuctionRepoMongoDB implementa AuctionRepository sobre MongoDB usando
// sesiones transaccionales para que subasta y entrada de outbox se confirmen
// o aborten juntas (requiere replica set).
type AuctionRepoMongoDB struct {
	client       *mongo.Client
	auctionsColl *mongo.Collection
	ledger       *sharedOutbox.OutboxRepoMongoDB
}

func NewAuctionRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string, ledger *sharedOutbox.OutboxRepoMongoDB) (*AuctionRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	return &AuctionRepoMongoDB{
		client:       client,
		auctionsColl: client.Database(dbName).Collection("auctions"),
		ledger:       ledger,
	}, nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoAuction struct {
	ID             uuid.UUID `bson:"_id"`
	Seller         string    `bson:"seller"`
	ReservePrice   int64     `bson:"reservePrice"`
	CurrentHighBid *int64    `bson:"currentHighBid,omitempty"`
	AuctionEnd     time.Time `bson:"auctionEnd"`
	Status         string    `bson:"status"`
	Make           string    `bson:"make"`
	Model          string    `bson:"model"`
	Year           int       `bson:"year"`
	Color          string    `bson:"color"`
	Mileage        int       `bson:"mileage"`
	ImageURL       string    `bson:"imageUrl"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func toMongoAuction(a *domain.Auction) mongoAuction {
	return mongoAuction{
		ID:             a.ID,
		Seller:         a.Seller,
		ReservePrice:   a.ReservePrice,
		CurrentHighBid: a.CurrentHighBid,
		AuctionEnd:     a.AuctionEnd.UTC(),
		Status:         string(a.Status),
		Make:           a.Item.Make,
		Model:          a.Item.Model,
		Year:           a.Item.Year,
		Color:          a.Item.Color,
		Mileage:        a.Item.Mileage,
		ImageURL:       a.Item.ImageURL,
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
}

func fromMongoAuction(ma *mongoAuction) *domain.Auction {
	return &domain.Auction{
		ID:             ma.ID,
		Seller:         ma.Seller,
		ReservePrice:   ma.ReservePrice,
		CurrentHighBid: ma.CurrentHighBid,
		AuctionEnd:     ma.AuctionEnd,
		Status:         domain.Status(ma.Status),
		Item: domain.Item{
			Make:     ma.Make,
			Model:    ma.Model,
			Year:     ma.Year,
			Color:    ma.Color,
			Mileage:  ma.Mileage,
			ImageURL: ma.ImageURL,
		},
		CreatedAt: ma.CreatedAt,
		UpdatedAt: ma.UpdatedAt,
	}
}

// withTransaction ejecuta fn dentro de una sesión transaccional.
func (r *AuctionRepoMongoDB) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// ------------------ CRUD + Outbox ------------------

func (r *AuctionRepoMongoDB) Create(ctx context.Context, a *domain.Auction, entry sharedDomain.OutboxEntry) error {
	return r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.auctionsColl.InsertOne(sc, toMongoAuction(a)); err != nil {
			return fmt.Errorf("failed to insert auction: %w", err)
		}

		seq, err := r.ledger.NextSeq(sc)
		if err != nil {
			return err
		}
		return r.ledger.AppendOutbox(sc, seq, entry)
	})
}

func (r *AuctionRepoMongoDB) Update(ctx context.Context, a *domain.Auction, expectedUpdatedAt time.Time, entry sharedDomain.OutboxEntry) error {
	return r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.auctionsColl.ReplaceOne(sc,
			bson.M{"_id": a.ID, "updatedAt": expectedUpdatedAt.UTC()},
			toMongoAuction(a),
		)
		if err != nil {
			return fmt.Errorf("failed to update auction: %w", err)
		}
		if res.MatchedCount == 0 {
			count, cerr := r.auctionsColl.CountDocuments(sc, bson.M{"_id": a.ID})
			if cerr != nil {
				return cerr
			}
			if count == 0 {
				return domain.ErrAuctionNotFound
			}
			return domain.ErrConflict
		}

		seq, err := r.ledger.NextSeq(sc)
		if err != nil {
			return err
		}
		return r.ledger.AppendOutbox(sc, seq, entry)
	})
}

func (r *AuctionRepoMongoDB) DeleteByID(ctx context.Context, id uuid.UUID, entry sharedDomain.OutboxEntry) error {
	return r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.auctionsColl.DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to delete auction: %w", err)
		}
		if res.DeletedCount == 0 {
			return domain.ErrAuctionNotFound
		}

		seq, err := r.ledger.NextSeq(sc)
		if err != nil {
			return err
		}
		return r.ledger.AppendOutbox(sc, seq, entry)
	})
}

// ------------------ Lectura ------------------

func (r *AuctionRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	var ma mongoAuction
	err := r.auctionsColl.FindOne(ctx, bson.M{"_id": id}).Decode(&ma)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongoAuction(&ma), nil
}

func (r *AuctionRepoMongoDB) ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria, pagination sharedQuery.Pagination, sort sharedQuery.Sort) ([]*domain.Auction, error) {
	filter := bson.M{}
	if criteria != nil {
		for _, c := range criteria.ToConditions() {
			field := mongoField(c.Field)
			switch c.Op {
			case sharedDomain.OpEq:
				filter[field] = c.Value
			case sharedDomain.OpGt:
				filter[field] = bson.M{"$gt": c.Value}
			case sharedDomain.OpGte:
				filter[field] = bson.M{"$gte": c.Value}
			case sharedDomain.OpLt:
				filter[field] = bson.M{"$lt": c.Value}
			case sharedDomain.OpLte:
				filter[field] = bson.M{"$lte": c.Value}
			case sharedDomain.OpLike:
				filter[field] = bson.M{"$regex": c.Value, "$options": "i"}
			}
		}
	}

	dir := 1
	if sort.Desc {
		dir = -1
	}
	sortDoc := bson.D{{Key: mongoField(sort.Field), Value: dir}}
	if sort.SecondaryField != "" {
		sortDoc = append(sortDoc, bson.E{Key: mongoField(sort.SecondaryField), Value: dir})
	}

	opts := options.Find().SetSort(sortDoc)
	if p, ok := pagination.(sharedQuery.OffsetPagination); ok {
		if p.Limit > 0 {
			opts.SetLimit(int64(p.Limit))
		}
		opts.SetSkip(int64(p.Offset))
	}

	cursor, err := r.auctionsColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var auctions []*domain.Auction
	for cursor.Next(ctx) {
		var ma mongoAuction
		if err := cursor.Decode(&ma); err != nil {
			return nil, err
		}
		auctions = append(auctions, fromMongoAuction(&ma))
	}

	return auctions, cursor.Err()
}

// mongoField traduce los nombres de columna neutrales a claves BSON.
func mongoField(field string) string {
	switch field {
	case "id":
		return "_id"
	case "updated_at":
		return "updatedAt"
	case "created_at":
		return "createdAt"
	case "image_url":
		return "imageUrl"
	default:
		// el resto coincide salvo el snake_case
		parts := strings.Split(field, "_")
		for i := 1; i < len(parts); i++ {
			if parts[i] != "" {
				parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
			}
		}
		return strings.Join(parts, "")
	}
}

// Verificación en tiempo de compilación.
var _ domain.AuctionRepository = (*AuctionRepoMongoDB)(nil)
