package catalog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/infrastructure/postgres"
	"github.com/validrx/validrx/internal/infrastructure/redpanda"
)

// EventType represents the type of catalog change
type EventType string

const (
	EventDrugUpserted       EventType = "DrugUpserted"
	EventDrugDeleted        EventType = "DrugDeleted"
	EventInteractionAdded   EventType = "InteractionAdded"
	EventInteractionDeleted EventType = "InteractionDeleted"
)

const (
	aggregateDrug        = "Drug"
	aggregateInteraction = "Interaction"
)

// Event is a catalog change published through the outbox
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateType, aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// DrugUpsertedData carries the full drug after the write
type DrugUpsertedData struct {
	Drug     clinical.Drug `json:"drug"`
	Replaced bool          `json:"replaced"`
}

// DrugDeletedData identifies the removed drug
type DrugDeletedData struct {
	DrugID string `json:"drug_id"`
}

// InteractionAddedData carries the stored rule
type InteractionAddedData struct {
	Rule clinical.InteractionRule `json:"rule"`
}

// InteractionDeletedData identifies the removed rule
type InteractionDeletedData struct {
	InteractionID int64 `json:"interaction_id"`
}

// OutboxEntry wraps the event for the catalog events topic, keyed by aggregate
// so changes to one drug stay ordered on a partition
func (e *Event) OutboxEntry() (*postgres.OutboxEntry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &postgres.OutboxEntry{
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     string(e.EventType),
		Payload:       payload,
		KafkaTopic:    redpanda.TopicCatalogEvents,
		KafkaKey:      e.AggregateType + ":" + e.AggregateID,
	}, nil
}
