package admission

import "fmt"

// Rejection codes reported to the originating connection.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeProhibitedContent = "PROHIBITED_CONTENT"
	CodeDailyLimitReached = "DAILY_LIMIT_REACHED"
	CodeStoreError        = "STORE_ERROR"
	CodeRateLimited       = "RATE_LIMITED"
)

// Error is a rejection from the admission pipeline. Code is one of the Code*
// constants; Message is safe to show to the client.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("admission: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("admission: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func reject(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func storeError(op string, err error) *Error {
	return &Error{Code: CodeStoreError, Message: "failed to " + op, Err: err}
}
