package reconcile

import "strings"

// NormalizeDataType maps adapter-reported types onto the catalog vocabulary:
// integer, float, double, boolean, datetime, date, string, text, uuid, json
// or other.
func NormalizeDataType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case t == "interval":
		return "other"
	case strings.HasPrefix(t, "int"), strings.HasPrefix(t, "uint"),
		t == "smallint", t == "bigint", strings.HasSuffix(t, "serial"):
		return "integer"
	case strings.HasPrefix(t, "float32"), t == "real", t == "float4":
		return "float"
	case strings.HasPrefix(t, "float"), strings.HasPrefix(t, "double"),
		strings.HasPrefix(t, "numeric"), strings.HasPrefix(t, "decimal"):
		return "double"
	case t == "bool", t == "boolean":
		return "boolean"
	case strings.Contains(t, "timestamp"), strings.HasPrefix(t, "datetime"):
		return "datetime"
	case strings.HasPrefix(t, "date"):
		return "date"
	case t == "object", t == "string", t == "category",
		strings.HasPrefix(t, "varchar"), strings.HasPrefix(t, "char"):
		return "string"
	case t == "text":
		return "text"
	case strings.Contains(t, "uuid"):
		return "uuid"
	case strings.HasPrefix(t, "json"):
		return "json"
	}
	return "other"
}

func NormalizeRelationType(raw string) string {
	t := strings.ToLower(raw)
	switch {
	case strings.Contains(t, "foreign"):
		return "foreign_key"
	case strings.Contains(t, "primary"):
		return "primary_key"
	case strings.Contains(t, "join"):
		return "join"
	case strings.Contains(t, "lineage"):
		return "lineage"
	case strings.Contains(t, "dependency"):
		return "dependency"
	}
	return "other"
}
