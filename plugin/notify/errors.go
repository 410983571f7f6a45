package notify

import "net/http"

// Errors
var (
	ErrNoRecipient    = &ChannelError{Code: CodeNoRecipient, Message: "user has no address for this channel"}
	ErrNotConfigured  = &ChannelError{Code: CodeNotConfigured, Message: "channel is not configured"}
	ErrUnknownProfile = &ChannelError{Code: CodeNoRecipient, Message: "user has no nudge profile"}
)

// Error codes.
const (
	CodeNoRecipient      = "NO_RECIPIENT"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidRecipient = "INVALID_RECIPIENT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUpstream         = "UPSTREAM"
	CodeTransport        = "TRANSPORT"
)

// ChannelError represents an error in channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the operation can be retried.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case CodeNoRecipient, CodeNotConfigured, CodeUnauthorized, CodeInvalidRecipient:
		return false
	default:
		return true
	}
}

// FromStatus classifies a provider HTTP status. 2xx yields nil.
func FromStatus(status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ChannelError{Code: CodeUnauthorized, Message: message}
	case status == http.StatusTooManyRequests:
		return &ChannelError{Code: CodeRateLimited, Message: message}
	case status >= 500:
		return &ChannelError{Code: CodeUpstream, Message: message}
	default:
		return &ChannelError{Code: CodeInvalidRecipient, Message: message}
	}
}
