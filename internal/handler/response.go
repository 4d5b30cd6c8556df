package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// timeFormat is the RFC 3339 UTC layout used in every response.
const timeFormat = "2006-01-02T15:04:05Z"

// relayerHeader names the relayer acting for the account in the request.
// Without it the account acts for itself.
const relayerHeader = "X-Relayer"

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// errorStatuses maps domain sentinels to HTTP status codes. The sentinel's
// text is the error code.
var errorStatuses = []struct {
	err    error
	status int
}{
	{domain.ErrTickAlignment, http.StatusBadRequest},
	{domain.ErrSize, http.StatusBadRequest},
	{domain.ErrInvalidPrice, http.StatusBadRequest},
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrUnknownAsset, http.StatusBadRequest},
	{domain.ErrNotOrderOwner, http.StatusForbidden},
	{domain.ErrRelayerNotAllowed, http.StatusForbidden},
	{domain.ErrMarketNotFound, http.StatusNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound},
	{domain.ErrWebhookNotFound, http.StatusNotFound},
	{domain.ErrInsufficientBalance, http.StatusConflict},
	{domain.ErrSlippage, http.StatusConflict},
	{domain.ErrCrossedInitialization, http.StatusConflict},
	{domain.ErrCrossedMarket, http.StatusConflict},
	{domain.ErrNoLiquidity, http.StatusConflict},
	{domain.ErrPostOnlyWouldCross, http.StatusConflict},
	{domain.ErrOrderNotCancellable, http.StatusConflict},
	{domain.ErrVaultNotInitialized, http.StatusConflict},
	{domain.ErrMarketAlreadyExists, http.StatusConflict},
	{domain.ErrReentrancy, http.StatusConflict},
	{domain.ErrWalletSettlement, http.StatusInternalServerError},
}

// mapError maps domain errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			WriteError(w, e.status, e.err.Error(), err.Error())
			return
		}
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

// settlementError splits off a wallet push failure that followed a
// committed operation, so the response can report the operation together
// with the funds left in the ledger. Any other error reports false.
func settlementError(committed bool, err error) (string, bool) {
	if err == nil {
		return "", true
	}
	if committed && errors.Is(err, domain.ErrWalletSettlement) {
		return err.Error(), true
	}
	return "", false
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ValidationError{Message: key + " must be a valid integer"}
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &domain.ValidationError{Message: key + " must be true or false"}
	}
	return b, nil
}

// useMargin reads the optional use_margin flag; trading against the ledger
// balance is the default.
func useMargin(flag *bool) bool {
	return flag == nil || *flag
}
