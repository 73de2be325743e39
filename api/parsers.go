package api

import (
	"fmt"
	"strconv"

	"dispute-rollup/common"

	"github.com/gin-gonic/gin"
)

const (
	// dfltLimit is the page size of range queries without an explicit limit
	dfltLimit = 20
	// maxLimit caps the page size of range queries
	maxLimit = 2049
)

func parseParamUint(name string, c *gin.Context) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("invalid %s: %s", name, c.Param(name)))
	}
	return v, nil
}

func parseQueryUint(name string, dflt uint64, c *gin.Context) (uint64, error) {
	s := c.Query(name)
	if s == "" {
		return dflt, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("invalid %s: %s", name, s))
	}
	return v, nil
}

func parseQueryLimit(c *gin.Context) (uint64, error) {
	limit, err := parseQueryUint("limit", dfltLimit, c)
	if err != nil {
		return 0, err
	}
	if limit == 0 || limit > maxLimit {
		return 0, common.Wrap(fmt.Errorf("limit out of range: %d", limit))
	}
	return limit, nil
}
