package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tikiti-ke/tikiti/internal/store"
	"github.com/tikiti-ke/tikiti/internal/utils"
)

// getUserID extracts the user_id placed on the context by JWTAuth and
// converts it to uint64.  JWT numeric claims arrive as float64.
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
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
	return 0, errors.New("invalid user_id in context")
}

// newGuestCredential generates a guest token for a ticket and stores it
// in redis so status and download calls can be authorized later.
func newGuestCredential(c echo.Context, tokens *store.Redis, ticketID uint64) (string, error) {
	token, err := utils.NewGuestToken()
	if err != nil {
		return "", err
	}
	if err := tokens.Issue(c.Request().Context(), ticketID, token); err != nil {
		return "", err
	}
	return token, nil
}
