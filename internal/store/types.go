// Package store implements the sharded single-writer stores: the heart of
// the system. Every store pins its key namespace across a fixed,
// power-of-two shard count onto a shard.Ring; within a shard, writes are
// strictly serialized, satisfying the exactly-once consume/rotate
// invariants the protocol depends on.
//
// Grounded on dexidp/dex storage/memory/memory.go (the create/get/update/
// delete shape per entity, guarded by a single mutex) generalized from one
// global writer to N shard-local writers, and on dex's
// AuthorizationCode/RefreshToken/DeviceRequest/DeviceToken record shapes
// (storage/storage.go), extended with PKCE, DPoP, and tenant fields.
package store

import "time"

// PKCE carries the code_challenge presented at /authorize.
type PKCE struct {
	CodeChallenge       string
	CodeChallengeMethod string // "S256" or "plain"
}

// Session is a server-side login session.
type Session struct {
	SessionID string
	UserID    string
	TenantID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	AMR       []string
	ACR       string
	Revoked   bool
}

// AuthorizationCode is the single-use code minted at the end of a
// successful /authorize flow.
type AuthorizationCode struct {
	Code          string
	TenantID      string
	ClientID      string
	UserID        string
	Sub           string
	RedirectURI   string
	Scope         []string
	Nonce         string
	AuthTime      time.Time
	ACR           string
	AMR           []string
	PKCE          PKCE
	DPoPJKT       string // optional DPoP thumbprint binding
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Consumed      bool
	ConnectorData []byte
	// IssuedFamilyID is the refresh token family minted the first time this
	// code was exchanged, if any, so a later double-spend attempt can
	// revoke every token derived from it.
	IssuedFamilyID string
}

// RefreshToken is one link in a rotation family.
type RefreshToken struct {
	Handle         string
	FamilyID       string
	ClientID       string
	UserID         string
	TenantID       string
	Scope          []string
	ACR            string
	AMR            []string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	PreviousHandle string
	SupersededBy   string
	RevokedAt      time.Time // zero value means not revoked
	DPoPJKT        string
	Nonce          string
	ConnectorData  []byte
}

// IsRevoked reports whether the token has been explicitly revoked.
func (r RefreshToken) IsRevoked() bool { return !r.RevokedAt.IsZero() }

// IsTip reports whether this handle is the live end of its family: issued
// and not yet superseded or revoked.
func (r RefreshToken) IsTip() bool { return r.SupersededBy == "" && !r.IsRevoked() }

// ChallengeKind enumerates the supported single-use challenge types.
type ChallengeKind string

const (
	ChallengeOTP       ChallengeKind = "otp"
	ChallengeWebAuthn  ChallengeKind = "webauthn"
	ChallengeMagicLink ChallengeKind = "magic-link"
	ChallengeDevice    ChallengeKind = "device"
)

// Challenge is a single-use verification artifact. ID is
// conventionally "{kind}:{session_key}".
type Challenge struct {
	ID            string
	Kind          ChallengeKind
	UserID        string
	ChallengeHash []byte
	Email         string
	Metadata      map[string]any
	ExpiresAt     time.Time
	Consumed      bool
}

// DeviceCodeStatus enumerates RFC 8628 device authorization states.
type DeviceCodeStatus string

const (
	DeviceStatusPending  DeviceCodeStatus = "pending"
	DeviceStatusApproved DeviceCodeStatus = "approved"
	DeviceStatusDenied   DeviceCodeStatus = "denied"
	DeviceStatusExpired  DeviceCodeStatus = "expired"
)

// DeviceCode is an RFC 8628 device authorization grant record.
type DeviceCode struct {
	DeviceCode string
	UserCode   string
	TenantID   string
	ClientID   string
	Scope      []string
	Status     DeviceCodeStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastPollAt time.Time
	PollCount  int
	Sub        string
	UserID     string
	Consumed   bool
}

// CIBARequest is a Client-Initiated Backchannel Authentication request,
// structurally identical to DeviceCode but keyed by auth_req_id.
type CIBARequest struct {
	AuthReqID  string
	TenantID   string
	ClientID   string
	Scope      []string
	Status     DeviceCodeStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastPollAt time.Time
	Interval   time.Duration
	Sub        string
	UserID     string
	Consumed   bool
}

// PARRequest is a Pushed Authorization Request.
type PARRequest struct {
	RequestURI string
	ClientID   string
	Parameters map[string]any
	ExpiresAt  time.Time
	Consumed   bool
}

// DPoPProof identifies one presented DPoP proof JTI.
type DPoPProof struct {
	JTI       string
	HTM       string
	HTU       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// FlowState is the transient carrier for a multi-step /authorize flow
// (login -> MFA -> consent), keyed by a server-minted flow_id.
type FlowState struct {
	FlowID        string
	TenantID      string
	ClientID      string
	State         string // "Received","Validated","PAR-Consumed","Authenticated","MFA-Required","Consent-Required","Complete","Error"
	AuthRequest   AuthorizationRequestParams
	UserID        string
	AMR           []string
	ACR           string
	ConnectorData []byte
	ExpiresAt     time.Time
}

// AuthorizationRequestParams holds the parsed /authorize request, carried
// unchanged through FlowState until the response is assembled.
type AuthorizationRequestParams struct {
	ClientID      string
	RedirectURI   string
	ResponseTypes []string
	Scope         []string
	State         string
	Nonce         string
	PKCE          PKCE
	DPoPJKT       string
	ResponseMode  string
	Prompt        []string
}
