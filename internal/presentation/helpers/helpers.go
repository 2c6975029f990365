package helpers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/google/uuid"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderVendorID = "X-Vendor-ID"
)

var ErrUnauthenticated = errors.New("unauthenticated")

func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func HttpError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteError maps the domain error taxonomy onto HTTP status codes.
func WriteError(w http.ResponseWriter, err error) {
	var orphan *domain.OrphanedEvidenceError
	switch {
	case errors.As(err, &orphan):
		WriteJSON(w, http.StatusBadGateway, map[string]string{
			"error":        orphan.Error(),
			"evidence_ref": orphan.Ref,
		})
	case errors.Is(err, ErrUnauthenticated):
		HttpError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrValidation):
		HttpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		HttpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		HttpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStorage):
		logger.Warn("storage unavailable", "err", err)
		HttpError(w, http.StatusServiceUnavailable, "storage unavailable, try again")
	default:
		logger.Error("unhandled error", "err", err)
		HttpError(w, http.StatusInternalServerError, "internal error")
	}
}

// ActorFromRequest reads the identity injected by the gateway.
func ActorFromRequest(r *http.Request) (domain.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	role, err := domain.ParseRole(strings.TrimSpace(r.Header.Get(HeaderUserRole)))
	if err != nil {
		return domain.Actor{}, ErrUnauthenticated
	}

	a := domain.Actor{ID: id, Role: role}
	if raw := strings.TrimSpace(r.Header.Get(HeaderVendorID)); raw != "" && role == domain.RoleStaff {
		v, err := uuid.Parse(raw)
		if err != nil {
			return domain.Actor{}, ErrUnauthenticated
		}
		a.VendorID = v
	}
	return a, nil
}

func ParseUUID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("invalid " + what)
	}
	return id, nil
}
