package elasticsearch

import (
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/models"
)

// luceneSpecial are the characters query_string treats as syntax.
const luceneSpecial = `+-=&|!(){}[]^"~*?:/<>`

// Escape quotes value for use inside a query_string query. Backslashes are
// escaped first so that later escapes are not doubled.
func Escape(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 8)
	for _, r := range value {
		if r == '\\' || strings.ContainsRune(luceneSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Term builds the query_string clause field:value.
func Term(field, value string) string {
	return field + ":" + Escape(value)
}

// And joins non-empty query_string clauses.
func And(clauses ...string) string {
	kept := clauses[:0:0]
	for _, c := range clauses {
		if strings.TrimSpace(c) != "" {
			kept = append(kept, "("+c+")")
		}
	}
	return strings.Join(kept, " AND ")
}

// TypeFilter restricts a query_string query to one document type.
func TypeFilter(t models.DocType) string {
	return Term("type", string(t))
}

func queryString(q string) map[string]any {
	if strings.TrimSpace(q) == "" {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"query_string": map[string]any{"query": q}}
}

func termsQuery(t models.DocType, field string, values []string) map[string]any {
	return map[string]any{
		"bool": map[string]any{
			"filter": []map[string]any{
				{"term": map[string]any{"type": string(t)}},
				{"terms": map[string]any{field: values}},
			},
		},
	}
}
