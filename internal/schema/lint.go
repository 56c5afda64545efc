package schema

import (
	"fmt"
	"strings"
)

// Issue - замечание к объявлению, не мешающее работе.
type Issue struct {
	Table   string `json:"table"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint проверяет зарегистрированные типы на сомнительные сочетания.
func (r *Registry) Lint() []Issue {
	var issues []Issue
	all := r.All()

	for _, et := range all {
		for _, rel := range et.Relations {
			// удаление владельца унесёт справочную строку, общую для всех
			if rel.AutoDelete && rel.Cardinality == One && rel.Target.Cacheable {
				issues = append(issues, Issue{
					Table:   et.Table,
					Field:   rel.Name,
					Code:    "autodelete_shared_target",
					Message: fmt.Sprintf("autodelete on a one-relation to precached table %q deletes shared reference data", rel.Target.Table),
				})
			}
			// батч по remote без индекса - полный проход таблицы
			if rel.Cardinality == Many && !indexed(rel.Target, rel.Remote) {
				issues = append(issues, Issue{
					Table:   et.Table,
					Field:   rel.Name,
					Code:    "relation_unindexed",
					Message: fmt.Sprintf("remote column %s.%s is not indexed", rel.Target.Table, rel.Remote.Name),
				})
			}
			if rel.AutoDelete && rel.Target.Backup {
				issues = append(issues, Issue{
					Table:   et.Table,
					Field:   rel.Name,
					Code:    "autodelete_backup",
					Message: "backup tables must not be cascade-deleted",
				})
			}
		}
		for _, c := range et.Columns {
			if c.MaxLength == 0 && c.Kind == KindString && (c.Unique || c.Group != "") {
				issues = append(issues, Issue{
					Table:   et.Table,
					Field:   c.Name,
					Code:    "unique_unbounded",
					Message: "unique string column without varchar length",
				})
			}
		}
		if et.Cacheable && !et.AutoSave {
			issues = append(issues, Issue{
				Table:   et.Table,
				Code:    "precache_noautosave",
				Message: "precached reference table is excluded from auto-save",
			})
		}
	}

	for _, cyc := range autoloadCycles(all) {
		issues = append(issues, Issue{
			Table:   cyc[0],
			Code:    "autoload_cycle",
			Message: "autoload relations form a cycle: " + strings.Join(cyc, " -> "),
		})
	}
	return issues
}

func indexed(et *EntityType, c *Column) bool {
	return c == et.Key() || c.Unique || c.Indexed || c.ObjectID
}

// autoloadCycles ищет циклы по autoload-связям (поиск в глубину с цветами).
func autoloadCycles(all []*EntityType) [][]string {
	const (
		white = iota
		grey
		black
	)
	color := map[*EntityType]int{}
	var stack []*EntityType
	var out [][]string

	var visit func(et *EntityType)
	visit = func(et *EntityType) {
		color[et] = grey
		stack = append(stack, et)
		for _, rel := range et.Relations {
			if !rel.AutoLoad {
				continue
			}
			switch color[rel.Target] {
			case white:
				visit(rel.Target)
			case grey:
				var cyc []string
				start := 0
				for i, s := range stack {
					if s == rel.Target {
						start = i
					}
				}
				for _, s := range stack[start:] {
					cyc = append(cyc, s.Table)
				}
				out = append(out, append(cyc, rel.Target.Table))
			}
		}
		stack = stack[:len(stack)-1]
		color[et] = black
	}
	for _, et := range all {
		if color[et] == white {
			visit(et)
		}
	}
	return out
}
