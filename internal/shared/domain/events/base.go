package events

import (
	"encoding/json"
	"reflect"
	"time"
)

// IntegrationEvent es el sobre común de todos los eventos que cruzan el bus.
// Seq es el número de secuencia del ledger: los consumidores lo usan como
// clave de deduplicación (entrega "al menos una vez").
type IntegrationEvent struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Key       string          `json:"key"` // id del agregado, clave de partición
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"` // contenido específico del evento
}

// PartitionKey mantiene juntos los eventos de un mismo agregado en el broker.
func (e IntegrationEvent) PartitionKey() string {
	return e.Key
}

// EventMetadata asocia un tipo de evento con su struct de payload y su topic.
type EventMetadata struct {
	Type  reflect.Type
	Topic string
}
