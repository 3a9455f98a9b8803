package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/store-loyalty/pkg/common"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// Params holds limit/offset paging parameters
type Params struct {
	Limit  int
	Offset int
}

// ParseParams reads limit and offset from the query string, falling back to defaults
// for missing, malformed or out-of-range values
func ParseParams(c *gin.Context) Params {
	p := Params{Limit: DefaultLimit, Offset: DefaultOffset}

	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		p.Limit = v
		if p.Limit > MaxLimit {
			p.Limit = MaxLimit
		}
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		p.Offset = v
	}

	return p
}

// BuildMeta builds the response meta block for a page
func BuildMeta(limit, offset int, total int64) *common.Meta {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &common.Meta{
		Limit:      limit,
		Offset:     offset,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    HasMore(offset, limit, total),
	}
}

// HasMore reports whether rows remain after the current page
func HasMore(offset, limit int, total int64) bool {
	return int64(offset+limit) < total
}

// GetCurrentPage returns the 1-based page number
func GetCurrentPage(offset, limit int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}
