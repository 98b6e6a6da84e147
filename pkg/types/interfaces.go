package types

import (
	"context"
	"time"
)

// Message is the wire payload published for a discovered file. The
// bus carries it verbatim; events and commands share this shape and
// differ in Type and Target. MessageID, CorrelationID, and OccurredUTC
// are stamped by the caller that builds the message; the bus does not
// set them.
type Message struct {
	MessageID        string    `json:"messageId"`
	CorrelationID    string    `json:"correlationId"` // the producing ExecutionID; threads every message from one execution
	OccurredUTC      time.Time `json:"occurredUtc"`
	ExecutionID      string    `json:"executionId"`
	TenantID         string    `json:"tenantId"`
	ConfigID         string    `json:"configId"`
	DiscoveredFileID string    `json:"discoveredFileId"`
	DiscoveredAt     time.Time `json:"discoveredAt"`

	FileURL   string            `json:"fileUrl"`
	FileName  string            `json:"fileName"`
	SizeBytes int64             `json:"sizeBytes"`
	Type      string            `json:"type"` // "FileDiscovered", "ProcessDiscoveredFile", ...
	Target    string            `json:"target"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Publisher delivers the events and commands a RetrievalConfiguration
// declares once a file passes the idempotency check.
type Publisher interface {
	PublishEvent(ctx context.Context, msg Message) error
	SendCommand(ctx context.Context, msg Message) error
}

// Adapter is implemented by every protocol (FTP, HTTPS, Azure Blob). An
// adapter instance is owned by exactly one in-flight execution for its
// lifetime; implementations are not required to be safe for concurrent
// List calls.
type Adapter interface {
	// List produces the finite set of entries under resolvedPath whose
	// filename matches namePattern (pkg/pattern glob syntax) and whose
	// extension matches extension, if set. Filtering happens inside the
	// adapter because some protocols (Azure blob enumeration) can apply
	// the filter while paging, avoiding a full listing round trip.
	List(ctx context.Context, resolvedPath, namePattern, extension string) ([]FileMetadata, error)
	TestConnection(ctx context.Context) error
	Close() error
}

// FileMetadata is what an adapter's directory listing returns, already
// filtered by filename pattern and extension, before idempotency
// checks are applied.
type FileMetadata struct {
	Name         string
	URL          string
	SizeBytes    int64
	LastModified time.Time

	// ProtocolMetadata carries protocol-specific extras (such as the
	// Azure ETag/content hash) that do not fit the common fields; the FTP
	// adapter leaves it nil.
	ProtocolMetadata map[string]string
}
