package models

// RateLimitExceededResponse is the API response when a limit is exceeded.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"` // seconds
}
