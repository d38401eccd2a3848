package middleware

// identity.go turns the authenticated subject into a string usable in rate
// limit and cache keys.  Unauthenticated callers (the processor callback,
// the occupancy feed) are keyed as "anon".

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

func subject(c echo.Context) string {
	switch v := c.Get(CtxUserID).(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatUint(uint64(v), 10)
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return "anon"
}
