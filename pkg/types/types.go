// Package types defines the core domain model shared by every
// component of the discovery engine: the tenant-owned retrieval
// configuration, the execution record produced each time it fires,
// the file metadata an adapter returns from a directory listing, and
// the event/command messages the pipeline emits once a new file is
// confirmed.
package types

import "time"

// Protocol identifies which adapter a configuration uses.
type Protocol string

const (
	ProtocolFTP   Protocol = "ftp"
	ProtocolHTTPS Protocol = "https"
	ProtocolAzure Protocol = "azure_blob"
)

// AuthType identifies how an adapter authenticates to the remote
// endpoint. Not every AuthType is meaningful for every Protocol; the
// combination is not validated, and each adapter acts only on the
// values it recognises.
type AuthType string

const (
	AuthTypeBasic            AuthType = "basic"             // username/password
	AuthTypeAnonymous        AuthType = "anonymous"         // FTP anonymous login
	AuthTypeBearer           AuthType = "bearer"             // HTTPS bearer token
	AuthTypeAPIKey           AuthType = "api_key"            // HTTPS header X-API-Key
	AuthTypeSAS              AuthType = "sas"               // Azure Blob shared access signature
	AuthTypeConnectionString AuthType = "connection_string" // Azure Blob storage connection string
)

// ExecutionStatus is the lifecycle state of a RetrievalExecution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSkipped   ExecutionStatus = "skipped" // overlap guard refused to start it
)

// TriggerKind records what caused a RetrievalExecution to start.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
	TriggerBackfill  TriggerKind = "backfill" // catch-up for a missed scheduled fire
)

// ProtocolSettings holds the protocol-specific connection fields of a
// RetrievalConfiguration. Exactly one of FTP, HTTPS, or Azure is
// populated, matching Protocol.
type ProtocolSettings struct {
	FTP   *FTPSettings   `yaml:"ftp,omitempty" json:"ftp,omitempty"`
	HTTPS *HTTPSSettings `yaml:"https,omitempty" json:"https,omitempty"`
	Azure *AzureSettings `yaml:"azure,omitempty" json:"azure,omitempty"`
}

// FTPSettings configures the FTP/FTPS adapter.
type FTPSettings struct {
	Host       string   `yaml:"host" json:"host"`
	Port       int      `yaml:"port" json:"port"`
	Explicit   bool     `yaml:"explicit_tls" json:"explicitTls"` // FTPS via AUTH TLS rather than plain FTP
	AuthType   AuthType `yaml:"auth_type" json:"authType"`
	Username   string   `yaml:"username" json:"username"`
	PasswordRef string  `yaml:"password_ref" json:"passwordRef"` // secret reference, never a raw value
	PassiveMode bool    `yaml:"passive_mode" json:"passiveMode"`
}

// HTTPSSettings configures the HTTPS adapter.
type HTTPSSettings struct {
	BaseURL     string            `yaml:"base_url" json:"baseUrl"`
	AuthType    AuthType          `yaml:"auth_type" json:"authType"`
	Username    string            `yaml:"username" json:"username"`
	PasswordRef string            `yaml:"password_ref" json:"passwordRef"`
	TokenRef    string            `yaml:"token_ref" json:"tokenRef"`
	Headers     map[string]string `yaml:"headers" json:"headers"`
	InsecureTLS bool              `yaml:"insecure_tls" json:"insecureTls"`
}

// AzureSettings configures the Azure Blob Storage adapter.
type AzureSettings struct {
	AccountName          string   `yaml:"account_name" json:"accountName"`
	Container            string   `yaml:"container" json:"container"`
	BlobPrefix           string   `yaml:"blob_prefix" json:"blobPrefix,omitempty"`
	AuthType             AuthType `yaml:"auth_type" json:"authType"`
	SASTokenRef          string   `yaml:"sas_token_ref" json:"sasTokenRef,omitempty"`
	ConnectionStringRef  string   `yaml:"connection_string_ref" json:"connectionStringRef,omitempty"`
}

// RetrievalConfiguration is the tenant-owned definition of a recurring
// file discovery job: where to look, on what schedule, using which
// credentials, and what messages to emit when a new file shows up.
type RetrievalConfiguration struct {
	TenantID string `json:"tenantId"`
	ConfigID string `json:"configId"`

	Name        string   `json:"name"`
	Protocol    Protocol `json:"protocol"`
	Settings    ProtocolSettings `json:"settings"`

	// PathPattern and FilenamePattern may contain {yyyy}/{yy}/{mm}/{dd}
	// tokens (pkg/token) resolved against the execution's fire time.
	PathPattern     string `json:"pathPattern"`
	FilenamePattern string `json:"filenamePattern"` // glob, matched via pkg/pattern
	FileExtension   string `json:"fileExtension,omitempty"`

	CronExpression string `json:"cronExpression"`
	Timezone       string `json:"timezone"` // IANA name, e.g. "America/Sao_Paulo"
	Enabled        bool   `json:"enabled"`

	Events   []EventDefinition   `json:"events"`
	Commands []CommandDefinition `json:"commands"`

	Version   int64     `json:"version"` // optimistic concurrency token
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EventDefinition describes one event the pipeline publishes for every
// newly discovered file, in the order configured.
type EventDefinition struct {
	EventType string            `json:"eventType"` // e.g. "FileDiscovered"
	Target    string            `json:"target"`    // logical topic/queue name
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CommandDefinition describes one command the pipeline sends for every
// newly discovered file, in the order configured.
type CommandDefinition struct {
	CommandType string            `json:"commandType"` // e.g. "ProcessDiscoveredFile"
	Target      string            `json:"target"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// DiscoveredFileStatus is the lifecycle state of a DiscoveredFile. A
// publish failure on a single candidate leaves the row at Discovered
// rather than advancing it to Failed, so the next execution retries
// publication without risking a double-publish against the uniqueness
// key; Failed is reserved for a row an operator or a future write path
// marks as permanently abandoned.
type DiscoveredFileStatus string

const (
	DiscoveredFileDiscovered     DiscoveredFileStatus = "Discovered"
	DiscoveredFileEventPublished DiscoveredFileStatus = "EventPublished"
	DiscoveredFileFailed         DiscoveredFileStatus = "Failed"
)

// DiscoveredFile is one entry an adapter's listing produced, matched
// against the configuration's patterns, and confirmed as new by the
// discovery pipeline.
type DiscoveredFile struct {
	FileID   string `json:"discoveredFileId"`
	TenantID string `json:"tenantId"`
	ConfigID string `json:"configId"`

	FileURL      string    `json:"fileUrl"`
	FileName     string    `json:"fileName"`
	SizeBytes    int64     `json:"sizeBytes"`
	LastModified time.Time `json:"lastModified"`

	DiscoveryDate string               `json:"discoveryDate"` // yyyy-mm-dd, the execution's logical date
	DiscoveredAt  time.Time            `json:"discoveredAt"`
	Status        DiscoveredFileStatus `json:"status"`
}

// IdempotencyKey returns the tuple that must be unique across all
// discovered files for a tenant: repeating a scan for the same
// configuration, file, and logical date must never produce a
// duplicate record or a duplicate event.
func (f DiscoveredFile) IdempotencyKey() string {
	return f.TenantID + ":" + f.ConfigID + ":" + f.FileURL + ":" + f.DiscoveryDate
}

// RetrievalExecution records one run of a RetrievalConfiguration: when
// it started, how it was triggered, and what it found.
type RetrievalExecution struct {
	TenantID    string `json:"tenantId"`
	ConfigID    string `json:"configId"`
	ExecutionID string `json:"executionId"`

	Trigger TriggerKind `json:"trigger"`
	Status  ExecutionStatus `json:"status"`

	ScheduledFor time.Time `json:"scheduledFor"` // the cron fire time this execution serves
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt,omitempty"`

	FilesFound     int `json:"filesFound"`
	FilesProcessed int `json:"filesProcessed"` // new files that passed the idempotency check

	RetryCount    int    `json:"retryCount"` // retries beyond the first attempt; 0 means the listing succeeded (or failed permanently) on the first try
	ErrorCategory string `json:"errorCategory,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`

	Version int64 `json:"version"`
}

// ConfigChangeKind identifies which CRUD transition produced a
// ConfigChangeEvent.
type ConfigChangeKind string

const (
	ConfigCreated ConfigChangeKind = "created"
	ConfigUpdated ConfigChangeKind = "updated"
	ConfigDeleted ConfigChangeKind = "deleted"
)

// ConfigChangeEvent is what the repository notifies its subscribers
// with whenever a RetrievalConfiguration is created, updated, or
// deleted. The Scheduler is the primary subscriber, but the shape
// is generic enough for an admin API to subscribe the same way.
type ConfigChangeEvent struct {
	Kind          ConfigChangeKind
	Configuration RetrievalConfiguration
	ChangedFields []string // populated for ConfigUpdated only
}

// CircuitBreakerState mirrors pkg/circuit.State for the values exposed
// over the diagnostic HTTP surface, decoupling the wire format from
// the internal package.
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)
