package mongodb

import (
	"context"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OutboxRepoMongoDB implementa el ledger de outbox sobre MongoDB. La secuencia
// global se genera con un documento contador ($inc atómico), y el claim se
// hace con updates condicionados por estado.
type OutboxRepoMongoDB struct {
	outboxColl   *mongo.Collection
	countersColl *mongo.Collection
	Visibility   time.Duration
	Base         time.Duration
	Max          time.Duration
}

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string) *OutboxRepoMongoDB {
	db := client.Database(dbName)
	return &OutboxRepoMongoDB{
		outboxColl:   db.Collection("outbox"),
		countersColl: db.Collection("counters"),
		Visibility:   30 * time.Second,
		Base:         time.Second,
		Max:          time.Minute,
	}
}

// mongoOutboxEntry mapea el documento del ledger sin contaminar el dominio con tags BSON.
type mongoOutboxEntry struct {
	Seq           int64       `bson:"_id"`
	ID            uuid.UUID   `bson:"id"`
	AggregateType string      `bson:"aggregateType"`
	AggregateID   string      `bson:"aggregateId"`
	EventType     string      `bson:"eventType"`
	Payload       interface{} `bson:"payload"`
	CreatedAt     time.Time   `bson:"createdAt"`
	Status        string      `bson:"status"`
	Attempts      int         `bson:"attempts"`
	NextAttemptAt time.Time   `bson:"nextAttemptAt"`
	ClaimedAt     *time.Time  `bson:"claimedAt,omitempty"`
}

// NextSeq reserva el siguiente número de secuencia global.
func (r *OutboxRepoMongoDB) NextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := r.countersColl.FindOneAndUpdate(ctx,
		bson.M{"_id": "outbox_seq"},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve outbox seq: %w", err)
	}
	return counter.Value, nil
}

// AppendOutbox inserta la entrada; debe invocarse dentro de la sesión
// transaccional del repositorio de dominio (el ctx lleva la sesión).
func (r *OutboxRepoMongoDB) AppendOutbox(ctx context.Context, seq int64, entry sharedDomain.OutboxEntry) error {
	doc := mongoOutboxEntry{
		Seq:           seq,
		ID:            entry.ID,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		EventType:     entry.EventType,
		Payload:       entry.Payload,
		CreatedAt:     entry.CreatedAt.UTC(),
		Status:        string(sharedDomain.OutboxPending),
		Attempts:      0,
		NextAttemptAt: entry.CreatedAt.UTC(),
	}
	if _, err := r.outboxColl.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// FetchPendingOutbox reclama hasta limit entradas en orden de secuencia. Antes
// de reclamar cada candidata comprueba que no quede ninguna anterior sin
// entregar del mismo agregado fuera de este lote.
func (r *OutboxRepoMongoDB) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.Visibility)

	claimable := bson.M{"$or": bson.A{
		bson.M{"status": "pending", "nextAttemptAt": bson.M{"$lte": now}},
		bson.M{"status": "in_flight", "claimedAt": bson.M{"$lte": cutoff}},
	}}

	cursor, err := r.outboxColl.Find(ctx, claimable,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var candidates []mongoOutboxEntry
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, err
	}

	claimed := make(map[int64]bool)
	var entries []sharedDomain.OutboxEntry

	for _, mo := range candidates {
		// Entradas anteriores sin entregar del mismo agregado que no están en
		// este lote bloquean la candidata.
		blockedFilter := bson.M{
			"aggregateId": mo.AggregateID,
			"_id":         bson.M{"$lt": mo.Seq},
			"status":      bson.M{"$ne": "delivered"},
		}
		var blockedSeqs []int64
		blockedCursor, err := r.outboxColl.Find(ctx, blockedFilter)
		if err != nil {
			return nil, err
		}
		var blockedDocs []mongoOutboxEntry
		if err := blockedCursor.All(ctx, &blockedDocs); err != nil {
			return nil, err
		}
		for _, b := range blockedDocs {
			if !claimed[b.Seq] {
				blockedSeqs = append(blockedSeqs, b.Seq)
			}
		}
		if len(blockedSeqs) > 0 {
			continue
		}

		res, err := r.outboxColl.UpdateOne(ctx,
			bson.M{"_id": mo.Seq, "status": bson.M{"$ne": "delivered"}},
			bson.M{"$set": bson.M{"status": "in_flight", "claimedAt": now}},
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			continue
		}

		claimed[mo.Seq] = true
		entries = append(entries, fromMongoOutboxEntry(&mo))
	}

	return entries, nil
}

// MarkOutboxDelivered es idempotente: repetir sobre una entrada entregada no es un error.
func (r *OutboxRepoMongoDB) MarkOutboxDelivered(ctx context.Context, seq int64) error {
	res, err := r.outboxColl.UpdateOne(ctx,
		bson.M{"_id": seq},
		bson.M{"$set": bson.M{"status": "delivered"}, "$unset": bson.M{"claimedAt": ""}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("no outbox entry found with seq %d", seq)
	}
	return nil
}

// MarkOutboxFailed devuelve la entrada a pending con backoff exponencial acotado.
func (r *OutboxRepoMongoDB) MarkOutboxFailed(ctx context.Context, seq int64) error {
	var mo mongoOutboxEntry
	err := r.outboxColl.FindOne(ctx, bson.M{"_id": seq}).Decode(&mo)
	if err == mongo.ErrNoDocuments {
		return fmt.Errorf("no outbox entry found with seq %d", seq)
	}
	if err != nil {
		return err
	}
	if mo.Status == string(sharedDomain.OutboxDelivered) {
		return nil
	}

	attempts := mo.Attempts + 1
	nextAttempt := time.Now().UTC().Add(sharedUtils.Backoff(r.Base, r.Max, attempts))

	_, err = r.outboxColl.UpdateOne(ctx,
		bson.M{"_id": seq, "status": bson.M{"$ne": "delivered"}},
		bson.M{
			"$set":   bson.M{"status": "pending", "attempts": attempts, "nextAttemptAt": nextAttempt},
			"$unset": bson.M{"claimedAt": ""},
		},
	)
	return err
}

func fromMongoOutboxEntry(mo *mongoOutboxEntry) sharedDomain.OutboxEntry {
	return sharedDomain.OutboxEntry{
		Seq:           mo.Seq,
		ID:            mo.ID,
		AggregateType: mo.AggregateType,
		AggregateID:   mo.AggregateID,
		EventType:     mo.EventType,
		Payload:       mo.Payload,
		CreatedAt:     mo.CreatedAt,
		Status:        sharedDomain.OutboxInFlight,
		Attempts:      mo.Attempts,
		NextAttemptAt: mo.NextAttemptAt,
		ClaimedAt:     mo.ClaimedAt,
	}
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxLedger = (*OutboxRepoMongoDB)(nil)
