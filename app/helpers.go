package app

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parsePositiveInt parses s as an integer greater than zero.
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// parseLimit reads ?limit=, defaulting to defaultListLimit and capping at maxListLimit.
func parseLimit(c *gin.Context) (int64, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := parsePositiveInt(raw)
	if err != nil {
		return 0, err
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return int64(n), nil
}

func parseBoolQuery(c *gin.Context, key string, def bool) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}
