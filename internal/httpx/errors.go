package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sealedmsg/internal/domain"
)

// codes lets specific sentinels survive a round trip over HTTP. Order
// matters: specific errors before the kinds they wrap.
var codes = []struct {
	code string
	err  error
}{
	{"not_authorized", domain.ErrNotAuthorized},
	{"still_locked", domain.ErrStillLocked},
	{"already_paid", domain.ErrAlreadyPaid},
	{"already_read", domain.ErrAlreadyRead},
	{"signature_rejected", domain.ErrSignatureRejected},
	{"decryption_failed", domain.ErrDecryptionFailed},
	{"message_not_found", domain.ErrMessageNotFound},
	{"stale_payment", domain.ErrStalePayment},
	{"invalid_mask", domain.ErrInvalidMask},
	{"unlock_time_in_past", domain.ErrUnlockTimeInPast},
	{"no_payment_condition", domain.ErrNoPaymentCondition},
	{"invalid_amount", domain.ErrInvalidAmount},
	{"self_addressed", domain.ErrSelfAddressed},
	{"invalid_identity", domain.ErrInvalidIdentity},
	{"invalid_short_hash", domain.ErrInvalidShortHash},
	{"preview_too_large", domain.ErrPreviewTooLarge},
	{"empty_content", domain.ErrEmptyContent},
	{"session_unavailable", domain.ErrSessionUnavailable},
	{"validation", domain.ErrValidation},
	{"authorization", domain.ErrAuthorization},
	{"not_ready", domain.ErrNotReady},
	{"resolution", domain.ErrResolution},
	{"transient", domain.ErrTransient},
	{"state_conflict", domain.ErrStateConflict},
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func codeFor(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrAuthorization:
		return http.StatusForbidden
	case domain.ErrNotReady:
		return http.StatusServiceUnavailable
	case domain.ErrResolution:
		return http.StatusNotFound
	case domain.ErrTransient:
		return http.StatusBadGateway
	case domain.ErrStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a JSON body. Unclassified errors are reported as
// internal errors without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteJSON(w, status, errorBody{Error: msg, Code: codeFor(err)})
}

// RemoteError is an error decoded from a service response.
type RemoteError struct {
	Status  int
	Message string
	cause   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.cause }

// ErrorFromResponse turns a non-2xx response into a classified error. Server
// side failures (5xx other than 503) and unknown statuses become transient.
func ErrorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = resp.Status
		}
	}
	re := &RemoteError{Status: resp.StatusCode, Message: body.Error}
	for _, c := range codes {
		if c.code == body.Code {
			re.cause = c.err
			return re
		}
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		re.cause = domain.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		re.cause = domain.ErrAuthorization
	case http.StatusNotFound:
		re.cause = domain.ErrResolution
	case http.StatusConflict:
		re.cause = domain.ErrStateConflict
	case http.StatusServiceUnavailable:
		re.cause = domain.ErrNotReady
	default:
		re.cause = domain.ErrTransient
	}
	return re
}
