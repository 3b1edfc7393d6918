// Package integration provides domain entities for external provider integrations.
package integration

import (
	"time"

	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// ID is a type alias for shared.ID.
type ID = shared.ID

// NewID generates a new integration ID.
func NewID() ID {
	return shared.NewID()
}

// ParseID parses a string into an integration ID.
func ParseID(s string) (ID, error) {
	return shared.IDFromString(s)
}

// Status represents the connection status of an integration.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// IsValid returns true if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// SyncState represents the status of the most recent sync run.
type SyncState string

const (
	SyncNever   SyncState = "never"
	SyncPending SyncState = "pending"
	SyncSuccess SyncState = "success"
	SyncError   SyncState = "error"
)

// IsValid returns true if the sync state is valid.
func (s SyncState) IsValid() bool {
	switch s {
	case SyncNever, SyncPending, SyncSuccess, SyncError:
		return true
	}
	return false
}

// String returns the string representation of the sync state.
func (s SyncState) String() string {
	return string(s)
}

// CredentialRef holds references to stored credentials. Tokens are opaque
// references, never the raw provider secrets.
type CredentialRef struct {
	APIKeyID     string
	OAuthToken   string
	RefreshToken string
	ExpiresAt    *time.Time
}

// RateLimits holds per-integration request throttling metadata.
type RateLimits struct {
	RequestsPerMinute int
	RequestsPerDay    int
}

// Integration is a configured instance of a catalog template.
type Integration struct {
	id           ID
	templateID   string
	name         string
	provider     string
	category     Category
	status       Status
	config       map[string]string
	credentials  CredentialRef
	capabilities []string
	rateLimits   RateLimits
	syncState    SyncState
	lastSyncAt   *time.Time
	errorMessage string
	createdAt    time.Time
	updatedAt    time.Time
}

// NewIntegration creates a pending integration from a catalog template.
func NewIntegration(id ID, tpl Template, config map[string]string) *Integration {
	now := time.Now()
	if config == nil {
		config = make(map[string]string)
	}
	capabilities := make([]string, len(tpl.Capabilities))
	copy(capabilities, tpl.Capabilities)
	return &Integration{
		id:           id,
		templateID:   tpl.ID,
		name:         tpl.Name,
		provider:     tpl.Provider,
		category:     tpl.Category,
		status:       StatusPending,
		config:       config,
		capabilities: capabilities,
		rateLimits: RateLimits{
			RequestsPerMinute: 60,
			RequestsPerDay:    10000,
		},
		syncState: SyncNever,
		createdAt: now,
		updatedAt: now,
	}
}

// Reconstruct creates an Integration from stored data.
func Reconstruct(
	id ID,
	templateID, name, provider string,
	category Category,
	status Status,
	config map[string]string,
	credentials CredentialRef,
	capabilities []string,
	rateLimits RateLimits,
	syncState SyncState,
	lastSyncAt *time.Time,
	errorMessage string,
	createdAt, updatedAt time.Time,
) *Integration {
	if config == nil {
		config = make(map[string]string)
	}
	return &Integration{
		id:           id,
		templateID:   templateID,
		name:         name,
		provider:     provider,
		category:     category,
		status:       status,
		config:       config,
		credentials:  credentials,
		capabilities: capabilities,
		rateLimits:   rateLimits,
		syncState:    syncState,
		lastSyncAt:   lastSyncAt,
		errorMessage: errorMessage,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

// --- Getters ---

func (i *Integration) ID() ID                     { return i.id }
func (i *Integration) TemplateID() string         { return i.templateID }
func (i *Integration) Name() string               { return i.name }
func (i *Integration) Provider() string           { return i.provider }
func (i *Integration) Category() Category         { return i.category }
func (i *Integration) Status() Status             { return i.status }
func (i *Integration) Config() map[string]string  { return i.config }
func (i *Integration) Credentials() CredentialRef { return i.credentials }
func (i *Integration) Capabilities() []string     { return i.capabilities }
func (i *Integration) RateLimits() RateLimits     { return i.rateLimits }
func (i *Integration) SyncState() SyncState       { return i.syncState }
func (i *Integration) LastSyncAt() *time.Time     { return i.lastSyncAt }
func (i *Integration) ErrorMessage() string       { return i.errorMessage }
func (i *Integration) CreatedAt() time.Time       { return i.createdAt }
func (i *Integration) UpdatedAt() time.Time       { return i.updatedAt }

// IsConnected returns true if the integration is currently connected.
func (i *Integration) IsConnected() bool {
	return i.status == StatusConnected
}

// HasCapability returns true if the integration supports the capability.
func (i *Integration) HasCapability(capability string) bool {
	for _, c := range i.capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// --- Setters ---

func (i *Integration) SetName(name string) {
	i.name = name
	i.updatedAt = time.Now()
}

func (i *Integration) SetConfig(config map[string]string) {
	if config == nil {
		config = make(map[string]string)
	}
	i.config = config
	i.updatedAt = time.Now()
}

func (i *Integration) SetCredentials(c CredentialRef) {
	i.credentials = c
	i.updatedAt = time.Now()
}

func (i *Integration) SetRateLimits(r RateLimits) {
	i.rateLimits = r
	i.updatedAt = time.Now()
}

// --- State transitions ---

// SetConnected marks the integration as connected and clears any error.
func (i *Integration) SetConnected() {
	i.status = StatusConnected
	i.errorMessage = ""
	i.updatedAt = time.Now()
}

// SetDisconnected marks the integration as disconnected.
func (i *Integration) SetDisconnected() {
	i.status = StatusDisconnected
	i.updatedAt = time.Now()
}

// SetError marks the integration as errored with the given message.
func (i *Integration) SetError(message string) {
	i.status = StatusError
	i.errorMessage = message
	i.updatedAt = time.Now()
}

// BeginSync marks a sync run as in progress.
func (i *Integration) BeginSync() {
	i.syncState = SyncPending
	i.updatedAt = time.Now()
}

// FinishSync records the outcome of a sync run.
func (i *Integration) FinishSync(succeeded bool) {
	now := time.Now()
	if succeeded {
		i.syncState = SyncSuccess
	} else {
		i.syncState = SyncError
	}
	i.lastSyncAt = &now
	i.updatedAt = now
}
