package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/auth"
)

// sessionFromPath resolves the checkout session in the path for the
// authenticated customer. Ownership itself is enforced by the service.
func sessionFromPath(r *http.Request) (customerID, sessionID uuid.UUID, appErr *AppError) {
	customerID, ok := auth.CustomerIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, ErrMissingToken
	}

	sessionID, err := uuid.Parse(r.PathValue("session"))
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrResourceNotFound
	}

	return customerID, sessionID, nil
}
