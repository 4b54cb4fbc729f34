package collab

import "time"

// DocOpEvent is the applied-operation event published to Kafka, keyed by
// document so one document's events stay on one partition. External
// consumers (notification fan-out, analytics) follow this stream; the
// editing hot path never waits on it.
type DocOpEvent struct {
	EventType       string    `json:"eventType"` // fixed "OP_APPLIED"
	DocID           string    `json:"docId"`
	OperationID     string    `json:"operationId"`
	Version         uint64    `json:"version"`
	AuthorID        uint64    `json:"authorId"`
	OperationType   string    `json:"operationType"`
	Payload         []byte    `json:"payload"`
	ClientMessageID string    `json:"clientMessageId"`
	AppliedAt       time.Time `json:"appliedAt"`
}
