package proto

// EscrowRequestParameters (ERP) is per-request metadata: which identity
// kind the caller is using, how long escrow is requested for, and the
// payment token that justifies that duration. Exposed to the server only
// after it decrypts this record with the key carried alongside it.
type EscrowRequestParameters struct {
	Kind        string `json:"kind"`
	Expiration  int64  `json:"expiration"`
	Payment     string `json:"payment"`
	WarningsTo  string `json:"warnings-to,omitempty"`
	PreferID    string `json:"prefer-id,omitempty"`
}

// EscrowRequestData (ERD) is the per-share secret capsule: the share
// itself, who to challenge to release it, and who to tell when that
// challenge succeeds.
type EscrowRequestData struct {
	Description string `json:"description"`
	Secret      string `json:"secret"`
	Verify      string `json:"verify"`
	Timeout     int64  `json:"timeout"`
	Notify      string `json:"notify,omitempty"`
}

// EscrowRequest is the wire envelope for depositing one share with a
// server: a protocol version, the base64 key for Parameters, the sealed
// ERP, and a list of sealed ERD capsules (in practice exactly one; kept as
// a list to match the wire format's historical shape).
type EscrowRequest struct {
	Version       string                          `json:"passcrow-escrow-request"`
	ParametersKey string                          `json:"parameters-key"`
	Parameters    Sealed[EscrowRequestParameters] `json:"parameters"`
	EscrowData    []Sealed[EscrowRequestData]     `json:"escrow-data"`
}

// EscrowResponse acknowledges an EscrowRequest.
type EscrowResponse struct {
	Version      string `json:"passcrow-escrow-response"`
	EscrowDataID string `json:"escrow-data-id,omitempty"`
	Expiration   int64  `json:"expiration,omitempty"`
	Error        string `json:"error,omitempty"`
}

// VerificationRequest asks a server to mint and deliver a verification
// code for an escrowed share, identified by its row id and the key needed
// to decrypt it just long enough to find who to notify.
type VerificationRequest struct {
	Version       string `json:"passcrow-verification-request"`
	EscrowDataID  string `json:"escrow-data-id"`
	EscrowDataKey string `json:"escrow-data-key"`
	Prefix        string `json:"prefix"`
}

// VerificationResponse reports that a code was sent (with a human-safe
// hint about where), or an error.
type VerificationResponse struct {
	Version      string `json:"passcrow-verification-response"`
	EscrowDataID string `json:"escrow-data-id,omitempty"`
	Hint         string `json:"hint,omitempty"`
	ActionURL    string `json:"action-url,omitempty"`
	Expiration   int64  `json:"expiration,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RecoveryRequest redeems a verification code for the escrowed share.
type RecoveryRequest struct {
	Version       string `json:"passcrow-recovery-request"`
	EscrowDataID  string `json:"escrow-data-id"`
	EscrowDataKey string `json:"escrow-data-key"`
	Verification  string `json:"verification"`
}

// RecoveryResponse carries the recovered share, or an error.
type RecoveryResponse struct {
	Version      string `json:"passcrow-recovery-response"`
	EscrowDataID string `json:"escrow-data-id,omitempty"`
	EscrowSecret string `json:"escrow-secret,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DeletionRequest asks a server to remove an escrow row and any pending
// verification code for it.
type DeletionRequest struct {
	Version      string `json:"passcrow-deletion-request"`
	EscrowDataID string `json:"escrow-data-id"`
}

// DeletionResponse acknowledges a DeletionRequest; deletion is idempotent,
// so this never carries a NotFound-style error.
type DeletionResponse struct {
	Version string `json:"passcrow-deletion-response"`
	Error   string `json:"error,omitempty"`
}

// PaymentScheme describes one payment scheme a server accepts, and the
// escrow duration it grants.
type PaymentScheme struct {
	Scheme            string `json:"scheme"`
	SchemeID          string `json:"scheme-id"`
	Description       string `json:"description"`
	ExpirationSeconds int64  `json:"expiration-seconds"`
	HashcashBits      int    `json:"hashcash-bits,omitempty"`
}

// PolicyObject is a server's advertised capabilities, returned by the
// policy endpoint.
type PolicyObject struct {
	Versions             []string        `json:"passcrow-versions"`
	CountryCode          string          `json:"country-code"`
	AboutURL             string          `json:"about-url"`
	Kinds                []string        `json:"kinds"`
	MaxRequestBytes      int             `json:"max-request-bytes"`
	MaxExpirationSeconds int64           `json:"max-expiration-seconds"`
	MaxTimeoutSeconds    int64           `json:"max-timeout-seconds"`
	PaymentSchemes       []PaymentScheme `json:"payment-schemes"`
}
