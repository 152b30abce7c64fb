package response

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 15
	MaxPageSize     = 500
)

// Pagination represents the pagination details in a response.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse is the standard structure for all paginated API responses.
type PaginatedResponse struct {
	Items      any        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Paginate performs pagination on a GORM query using page/page_size query
// parameters and returns a standardized response. The admin listings served
// here are bounded tables (assignments, attendance, dispatches), so a plain
// COUNT + page fetch is sufficient.
func Paginate(c *gin.Context, query *gorm.DB, dest any) (*PaginatedResponse, error) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(DefaultPageSize)))
	if err != nil || pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var totalItems int64
	countQuery := query.Session(&gorm.Session{NewDB: true})
	if err := countQuery.Count(&totalItems).Error; err != nil {
		logrus.WithError(err).Warn("Pagination COUNT query failed")
		return nil, err
	}

	offset := (page - 1) * pageSize
	dataQuery := query.Session(&gorm.Session{NewDB: true})
	if err := dataQuery.Limit(pageSize).Offset(offset).Find(dest).Error; err != nil {
		logrus.WithError(err).Warn("Pagination data query failed")
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))

	return &PaginatedResponse{
		Items: dest,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: totalItems,
			TotalPages: totalPages,
		},
	}, nil
}
