package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"realmdb/internal/orm"
	"realmdb/internal/schema"
)

// ===== META HANDLERS =====

type metaTableListItem struct {
	Table     string `json:"table"`
	Type      string `json:"type"`
	Cacheable bool   `json:"cacheable"`
	AutoSave  bool   `json:"autoSave"`
}

func MetaListHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		all := e.Registry().All()
		out := make([]metaTableListItem, 0, len(all))
		for _, et := range all {
			out = append(out, metaTableListItem{
				Table:     et.Table,
				Type:      et.Name,
				Cacheable: e.Cacheable(et),
				AutoSave:  et.AutoSave,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
		c.JSON(http.StatusOK, out)
	}
}

type metaColumn struct {
	Name          string `json:"name"`
	Field         string `json:"field"`
	Kind          string `json:"kind"`
	Nullable      bool   `json:"nullable"`
	Unique        bool   `json:"unique,omitempty"`
	UniqueGroup   string `json:"uniqueGroup,omitempty"`
	Indexed       bool   `json:"indexed,omitempty"`
	MaxLength     int    `json:"maxLength,omitempty"`
	Primary       bool   `json:"primary,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	ObjectID      bool   `json:"objectId,omitempty"`
}

type metaRelation struct {
	Name        string `json:"name"`
	Target      string `json:"target"`
	Local       string `json:"local"`
	Remote      string `json:"remote"`
	Cardinality string `json:"cardinality"`
	AutoLoad    bool   `json:"autoLoad"`
	AutoDelete  bool   `json:"autoDelete"`
}

type metaTable struct {
	Table     string         `json:"table"`
	Type      string         `json:"type"`
	Key       string         `json:"key"`
	Cacheable bool           `json:"cacheable"`
	AutoSave  bool           `json:"autoSave"`
	Backup    bool           `json:"backup,omitempty"`
	Columns   []metaColumn   `json:"columns"`
	Relations []metaRelation `json:"relations,omitempty"`
	Indexes   []schema.Index `json:"indexes,omitempty"`
}

func MetaTableHandler(e *orm.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := lookupTable(e, c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		c.JSON(http.StatusOK, describe(e, et))
	}
}

func describe(e *orm.Engine, et *schema.EntityType) metaTable {
	out := metaTable{
		Table:     et.Table,
		Type:      et.Name,
		Key:       et.Key().Name,
		Cacheable: e.Cacheable(et),
		AutoSave:  et.AutoSave,
		Backup:    et.Backup,
		Indexes:   et.Indexes(),
	}
	for _, col := range et.Columns {
		out.Columns = append(out.Columns, metaColumn{
			Name:          col.Name,
			Field:         col.Field,
			Kind:          col.Kind.String(),
			Nullable:      col.Nullable,
			Unique:        col.Unique,
			UniqueGroup:   col.Group,
			Indexed:       col.Indexed,
			MaxLength:     col.MaxLength,
			Primary:       col.Primary,
			AutoIncrement: col.AutoIncrement,
			ObjectID:      col.ObjectID,
		})
	}
	for _, rel := range et.Relations {
		out.Relations = append(out.Relations, metaRelation{
			Name:        rel.Name,
			Target:      rel.Target.Table,
			Local:       rel.Local.Name,
			Remote:      rel.Remote.Name,
			Cardinality: rel.Cardinality.String(),
			AutoLoad:    rel.AutoLoad,
			AutoDelete:  rel.AutoDelete,
		})
	}
	return out
}

// lookupTable ищет таблицу по имени без учёта регистра; годится и имя типа Go.
func lookupTable(e *orm.Engine, name string) (*schema.EntityType, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if et, ok := e.TypeByTable(name); ok {
		return et, true
	}
	var found *schema.EntityType
	for _, et := range e.Registry().All() {
		if strings.EqualFold(et.Table, name) || strings.EqualFold(et.Name, name) {
			if found != nil { // неоднозначно
				return nil, false
			}
			found = et
		}
	}
	return found, found != nil
}
