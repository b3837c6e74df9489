package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	ct "github.com/dennislee928/carbontrade"
)

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func pagination(r *http.Request) ct.Pagination {
	return ct.NewPagination(queryInt(r, "page", 1), queryInt(r, "limit", ct.DefaultPageLimit))
}

// writeFailure maps store and validation errors onto responses
func writeFailure(w http.ResponseWriter, r *http.Request, what string, err error) {
	if ae, ok := ct.AsAuthError(err); ok {
		ct.WriteAuthError(w, ae)
		return
	}
	switch {
	case errors.Is(err, ct.ErrUserNotFound):
		ct.WriteError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, ct.ErrNotFound):
		ct.WriteError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, ct.ErrInsufficientBalance),
		errors.Is(err, ct.ErrInsufficientQuantity),
		errors.Is(err, ct.ErrInvalidQuantity):
		ct.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "what", what, "path", r.URL.Path, "error", err)
		ct.WriteError(w, http.StatusInternalServerError, "Failed to process "+strings.ToLower(what))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := ct.DecodeJSON(r, v); err != nil {
		ct.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// targetUser resolves {id} ("me" is the caller) and allows access to
// oneself or, for administrators, anyone.
func targetUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := ct.ClaimsFromContext(r.Context())
	if claims == nil {
		ct.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return "", false
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		id = mux.Vars(r)["userId"]
	}
	if id == "" || id == "me" {
		return claims.UserID, true
	}
	if id != claims.UserID && !claims.IsAdmin() {
		ct.WriteError(w, http.StatusForbidden, "Access denied")
		return "", false
	}
	return id, true
}
