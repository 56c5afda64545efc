package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realmdb/internal/orm"
	"realmdb/internal/schema"
)

// LintHandler отдаёт замечания к объявлениям таблиц. Замечания не мешают работе.
func LintHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := e.Registry().Lint()
		if issues == nil {
			issues = []schema.Issue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues, "count": len(issues)})
	}
}
