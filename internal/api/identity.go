package api

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/labelous/labelsync/internal/errors"
)

// IdentityProvider resolves the caller of a request to an annotator
// identity. Authentication itself is an external concern; everything
// downstream of this interface receives the identity as an explicit
// value instead of reading ambient request state.
type IdentityProvider interface {
	CurrentIdentity(ctx echo.Context) (uint, error)
}

// HeaderIdentity trusts a numeric annotator ID from a request header.
// It stands in for a real authentication layer fronting this service.
type HeaderIdentity struct {
	// Header is the header name carrying the annotator ID.
	Header string
}

// DefaultIdentityHeader is the header read when none is configured.
const DefaultIdentityHeader = "X-Annotator-ID"

// CurrentIdentity implements IdentityProvider.
func (h *HeaderIdentity) CurrentIdentity(ctx echo.Context) (uint, error) {
	header := h.Header
	if header == "" {
		header = DefaultIdentityHeader
	}
	value := ctx.Request().Header.Get(header)
	if value == "" {
		return 0, errors.Newf("missing %s header", header).
			Component("api").
			Category(errors.CategoryHTTP).
			Build()
	}
	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid %s header", header).
			Component("api").
			Category(errors.CategoryHTTP).
			Build()
	}
	return uint(id), nil
}
