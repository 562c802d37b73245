// Package storage persists operation history and venue registrations.
// The engine runs fine without it; cmd/routerd wires it in when a
// postgres_url is configured, fed by an event-bus subscriber.
package storage

import (
	"context"

	"github.com/openliq/aggregator/internal/storage/models"
)

// Storage is the persistence contract for the aggregation engine.
type Storage interface {
	// Operations
	SaveOperation(ctx context.Context, op *models.OperationRecord) error
	GetOperation(ctx context.Context, operationID string) (*models.OperationRecord, error)
	ListOperations(ctx context.Context, caller string, limit, offset int) ([]*models.OperationRecord, error)

	// Venues
	SaveVenue(ctx context.Context, venue *models.VenueRecord) error
	DeactivateVenue(ctx context.Context, venueID string) error
	ListVenues(ctx context.Context) ([]*models.VenueRecord, error)

	RunMigrations() error
}
