package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"realmdb/internal/entity"
	"realmdb/internal/orm"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

func ListHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := lookupTable(e, c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		params, err := parseListParams(c.Request.URL.Query())
		if err == nil {
			err = params.Where.Validate(et.StoreTable())
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		found, err := e.Find(c.Request.Context(), et, params.Where)
		if err != nil {
			writeErr(c, err)
			return
		}
		total := len(found)
		found = page(found, params)
		out := make([]map[string]any, 0, len(found))
		for _, x := range found {
			out = append(out, flatten(et, x))
		}
		c.Header("X-Total-Count", strconv.Itoa(total))
		c.JSON(http.StatusOK, out)
	}
}

func GetOneHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := lookupTable(e, c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		x, err := e.Load(c.Request.Context(), et, keyFor(et, c.Param("key")))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(et, x))
	}
}

func CountHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := lookupTable(e, c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		params, err := parseListParams(c.Request.URL.Query())
		if err == nil {
			err = params.Where.Validate(et.StoreTable())
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n, err := e.Count(c.Request.Context(), et, params.Where)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

func CacheStatsHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tables": e.CacheStats(), "tracked": e.Tracked()})
	}
}

func CacheReloadHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := lookupTable(e, c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		if !e.Cacheable(et) {
			c.JSON(http.StatusConflict, gin.H{"error": "table is not cached"})
			return
		}
		if err := e.ReloadCache(c.Request.Context(), et); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "table": et.Table})
	}
}

func CacheRefreshHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := lookupTable(e, c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		key := keyFor(et, c.Param("key"))
		if err := e.UpdateInCache(c.Request.Context(), et, key); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "table": et.Table, "key": key})
	}
}

// SaveHandler запускает цикл сохранения вне очереди. all=1 - не смотреть на
// гейты автосохранения.
func SaveHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		all := strings.EqualFold(c.Query("all"), "1") || strings.EqualFold(c.Query("all"), "true")
		saved, err := e.SaveAll(c.Request.Context(), !all)
		if err != nil {
			status, body := errBody(err)
			body["saved"] = saved
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": saved})
	}
}

// keyFor приводит ключ из пути к виду ключевой колонки.
func keyFor(et *schema.EntityType, raw string) any {
	if et.Key().Kind == schema.KindInt {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	return raw
}

// flatten - строка экземпляра в виде колонка -> значение.
func flatten(et *schema.EntityType, x entity.Tracked) map[string]any {
	id := x.Tracker().ObjectID()
	var row store.Row
	x.Tracker().Locked(func() {
		row = et.Extract(et.Elem(x), id)
	})
	return row
}

func writeErr(c *gin.Context, err error) {
	status, body := errBody(err)
	c.JSON(status, body)
}

func errBody(err error) (int, gin.H) {
	body := gin.H{"error": err.Error()}
	if fe, ok := orm.Fields(err); ok {
		body["errors"] = fe
	}
	switch {
	case orm.NotFound.Has(err):
		return http.StatusNotFound, body
	case orm.ConstraintViolation.Has(err):
		return http.StatusConflict, body
	case orm.SchemaError.Has(err):
		return http.StatusBadRequest, body
	case orm.StorageUnavailable.Has(err):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, body
}
