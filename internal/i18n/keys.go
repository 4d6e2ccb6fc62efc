// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthOrgInactive        = "auth.org_inactive"
	KeyAuthCapabilityRequired = "auth.capability_required"

	// Access control
	KeyAccessDenied = "access.denied"

	// Conflicts
	KeyAlreadyExists          = "conflict.already_exists"
	KeyAlreadySubmitted       = "conflict.already_submitted"
	KeyConcurrentModification = "conflict.concurrent_modification"
	KeyDuplicateVote          = "conflict.duplicate_vote"

	// Proof bridge
	KeyUnknownValidator = "proof.unknown_validator"
	KeyInvalidSignature = "proof.invalid_signature"
	KeyProofFinalized   = "proof.finalized"
	KeyProofExpired     = "proof.expired"

	// Token ledger
	KeyInsufficientBalance = "token.insufficient_balance"
	KeySupplyExceeded      = "token.supply_exceeded"

	// Marketplace
	KeyComplianceNotApproved = "dataset.compliance_not_approved"
	KeyDatasetInactive       = "dataset.inactive"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Rate limiting
	KeyRateLimited = "rate.limited"

	// Server
	KeyInternalError = "server.internal_error"
)

// Not-found keys are "<resource>.not_found".
const (
	ResourceRecord       = "record"
	ResourceAlert        = "alert"
	ResourceProof        = "proof"
	ResourceValidator    = "validator"
	ResourceDataset      = "dataset"
	ResourceLicense      = "license"
	ResourceOrganization = "organization"
	ResourceTopUp        = "topup"
	ResourceGeneric      = "resource"
)
