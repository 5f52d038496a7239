package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
)

// CatalogRepository reads the event catalog maintained by the organizer
// tooling. The checkout core only consumes it; tier inventory lives in SQL.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID        uuid.UUID `bson:"_id"`
	Name      string    `bson:"name"`
	Category  string    `bson:"category"`
	Venue     string    `bson:"venue"`
	Date      time.Time `bson:"date"`
	Status    string    `bson:"status"` // draft, published, canceled, completed
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get event", err)
		return nil, err
	}
	return &event, nil
}

// EventExists reports whether a published event with this id is on sale.
func (c *CatalogRepository) EventExists(ctx context.Context, id uuid.UUID) (bool, error) {
	count, err := c.coll.CountDocuments(ctx, bson.M{"_id": id, "status": "published"})
	if err != nil {
		c.logger.Error("failed to check event", err)
		return false, err
	}
	return count > 0, nil
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.Error("failed to create event", err)
		return err
	}
	return nil
}
