package schema

import (
	"strconv"
	"strings"
	"unicode"
)

// tagOptions - разобранный тег: имя (первый токен) и опции.
// Флаг без значения хранится как "true".
type tagOptions struct {
	name string
	opts map[string]string
	keys []string // порядок появления, для сообщений
}

func (t tagOptions) has(k string) bool { _, ok := t.opts[k]; return ok }

func (t tagOptions) get(k string) string { return t.opts[k] }

// parseTag разбирает `name,opt,k=v,k2='a,b'`. Если named=false,
// первый токен тоже считается опцией (тег на встроенном Base, тег rel).
func parseTag(tag string, named bool) tagOptions {
	out := tagOptions{opts: map[string]string{}}
	toks := splitOptionTokens(tag)
	if named && len(toks) > 0 {
		out.name = strings.TrimSpace(toks[0])
		toks = toks[1:]
	}
	for _, tok := range toks {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// флаг без значения -> "true"
		if !strings.Contains(tok, "=") {
			k := strings.ToLower(tok)
			out.opts[k] = "true"
			out.keys = append(out.keys, k)
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		// снять кавычки, если есть
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		if k != "" {
			out.opts[k] = v
			out.keys = append(out.keys, k)
		}
	}
	return out
}

// splitOptionTokens делит строку по запятым, не разрывая кавычки и [...].
// Пустой первый токен сохраняется: `,notnull` - колонка с именем по умолчанию.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		out = append(out, string(buf))
		buf = buf[:0]
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		case ',':
			if !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		default:
			buf = append(buf, r)
		}
	}
	if len(buf) > 0 || len(out) > 0 {
		flush()
	}
	return out
}

// positiveInt разбирает значение опции вида varchar=N.
func positiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil && n > 0
}

// SnakeCase: CharacterName -> character_name, HTTPServer -> http_server.
func SnakeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1]) ||
				(i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
