package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"sealedmsg/internal/domain"
)

func TestErrorsSurviveTheWire(t *testing.T) {
	cases := []struct {
		err    error
		want   error
		status int
	}{
		{domain.ErrStillLocked, domain.ErrStillLocked, http.StatusConflict},
		{fmt.Errorf("pay: %w", domain.ErrAlreadyPaid), domain.ErrAlreadyPaid, http.StatusConflict},
		{domain.ErrNotAuthorized, domain.ErrNotAuthorized, http.StatusForbidden},
		{domain.ErrMessageNotFound, domain.ErrMessageNotFound, http.StatusNotFound},
		{domain.ErrInvalidMask, domain.ErrInvalidMask, http.StatusBadRequest},
		{domain.ErrSessionUnavailable, domain.ErrSessionUnavailable, http.StatusServiceUnavailable},
		{domain.Transient("fetch", errors.New("boom")), domain.ErrTransient, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			got := ErrorFromResponse(rec.Result())
			if !errors.Is(got, tc.want) {
				t.Fatalf("decoded %v does not match %v", got, tc.want)
			}
		})
	}
}

func TestUnclassifiedErrorsStayOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("db password is hunter2"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	got := ErrorFromResponse(rec.Result())
	if !errors.Is(got, domain.ErrTransient) {
		t.Fatalf("500 should decode as transient, got %v", got)
	}
	var re *RemoteError
	if !errors.As(got, &re) || re.Message != "internal error" {
		t.Fatalf("internal error text leaked: %v", got)
	}
}
