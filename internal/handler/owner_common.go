package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/middleware"
	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

// claimID converts a numeric JWT claim stored in the context to uint64.
// Claims arrive as float64 from JSON but tests and other middleware may
// set them as integers or strings.
func claimID(c echo.Context, key string) (uint64, error) {
	switch t := c.Get(key).(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid " + key + " in context")
}

// getUserID extracts the authenticated subject.
func getUserID(c echo.Context) (uint64, error) { return claimID(c, middleware.CtxUserID) }

func role(c echo.Context) string {
	r, _ := c.Get(middleware.CtxRole).(string)
	return r
}

// clientScope returns the client a CLIENT token is bound to.  Other roles
// are unscoped and get ok=false.  A CLIENT token without a client_id is
// rejected with repository.ErrForbidden.
func clientScope(c echo.Context) (clientID uint64, scoped bool, err error) {
	if role(c) != model.RoleClient {
		return 0, false, nil
	}
	id, err := claimID(c, middleware.CtxClientID)
	if err != nil || id == 0 {
		return 0, true, repository.ErrForbidden
	}
	return id, true, nil
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryTime parses an optional RFC 3339 or YYYY-MM-DD query parameter.
func queryTime(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func queryLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
