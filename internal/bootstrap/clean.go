package bootstrap

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// cleanDocs prepares stored documents for JSON delivery: the store id is
// stripped, strings holding invalid UTF-8 are repaired, and every document
// is tagged with source "initial" so clients can tell snapshot data from
// live data.
func cleanDocs(docs []map[string]any) []map[string]any {
	if docs == nil {
		return []map[string]any{}
	}
	for _, doc := range docs {
		delete(doc, "_id")
		cleanMap(doc)
		doc["source"] = "initial"
	}
	return docs
}

func cleanMap(m map[string]any) {
	for k, v := range m {
		m[k] = cleanValue(v)
	}
}

func cleanValue(v any) any {
	switch x := v.(type) {
	case string:
		return strings.ToValidUTF8(x, "?")
	case map[string]any:
		cleanMap(x)
		return x
	case primitive.A:
		for i := range x {
			x[i] = cleanValue(x[i])
		}
		return x
	case []any:
		for i := range x {
			x[i] = cleanValue(x[i])
		}
		return x
	default:
		return v
	}
}
