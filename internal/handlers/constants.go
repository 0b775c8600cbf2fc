package handlers

const (
	RequestIDHeader = "X-Request-ID"

	// Error codes returned in JSON error bodies
	CodeBadRequest       = "bad_request"
	CodeValidation       = "validation_failed"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeInvalidItem      = "invalid_item_reference"
	CodeConflict         = "concurrency_conflict"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal_error"
	CodeNotReady         = "not_ready"
	ErrInternalServerMsg = "Internal server error"
	ErrUnauthorizedMsg   = "Unauthorized"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20
