package transform

import (
	"maps"

	"github.com/deeplooplabs/perfopt/rules"
)

// Query is a database filter. It is passed through untouched.
type Query map[string]any

// SortField is one key of a sort specification. Order is 1 or -1.
type SortField struct {
	Field string `json:"field"`
	Order int    `json:"order"`
}

// QueryOptions are the find options that accompany a query
type QueryOptions struct {
	// Collection selects the projection table entry
	Collection string         `json:"collection,omitempty"`
	Projection map[string]int `json:"projection,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Sort       []SortField    `json:"sort,omitempty"`
}

const primaryKey = "_id"

var (
	inventoryProjection = []string{"name", "partNumber", "price", "quantity", "category", "brand"}
	orderProjection     = []string{"orderNumber", "totalAmount", "status", "createdAt", "customerInfo"}
	defaultProjection   = []string{"createdAt", "updatedAt"}

	projections = map[string][]string{
		"parts":     inventoryProjection,
		"inventory": inventoryProjection,
		"products":  inventoryProjection,
		"vehicles":  inventoryProjection,
		"orders":    orderProjection,
		"bookings":  orderProjection,
		"payments":  orderProjection,
	}

	indexedFields = map[string]bool{
		"_id":         true,
		"createdAt":   true,
		"updatedAt":   true,
		"status":      true,
		"category":    true,
		"partNumber":  true,
		"orderNumber": true,
	}

	// compoundIndexes maps a non-indexed sort field to the compound index
	// that covers it. The last field takes the requested direction.
	compoundIndexes = map[string][]string{
		"price":        {"category", "price"},
		"name":         {"category", "name"},
		"brand":        {"category", "brand"},
		"quantity":     {"category", "quantity"},
		"totalAmount":  {"status", "totalAmount"},
		"customerInfo": {"status", "createdAt"},
	}
)

// ProjectionFor returns the minimal projection for a collection. The primary
// key is always included.
func ProjectionFor(collection string) map[string]int {
	fields, ok := projections[collection]
	if !ok {
		fields = defaultProjection
	}

	projection := make(map[string]int, len(fields)+1)
	projection[primaryKey] = 1
	for _, f := range fields {
		projection[f] = 1
	}
	return projection
}

// OptimizeQuery injects a projection and a default limit when the caller
// gave none, and rewrites sort fields onto known indexes
func OptimizeQuery(q Query, opts QueryOptions, r rules.Rules) (Query, QueryOptions) {
	out := QueryOptions{
		Collection: opts.Collection,
		Limit:      opts.Limit,
	}

	if opts.Projection != nil {
		out.Projection = maps.Clone(opts.Projection)
	} else if r.Database.EnableProjection {
		out.Projection = ProjectionFor(opts.Collection)
	}

	if out.Limit <= 0 && r.Response.EnablePagination && r.Response.DefaultPageSize > 0 {
		out.Limit = r.Response.DefaultPageSize
	}

	if len(opts.Sort) > 0 {
		out.Sort = optimizeSort(opts.Sort)
	}

	return maps.Clone(q), out
}

func optimizeSort(sort []SortField) []SortField {
	out := make([]SortField, 0, len(sort))
	seen := make(map[string]bool, len(sort))

	add := func(f SortField) {
		if seen[f.Field] {
			return
		}
		seen[f.Field] = true
		out = append(out, f)
	}

	for _, f := range sort {
		index, ok := compoundIndexes[f.Field]
		if indexedFields[f.Field] || !ok {
			add(f)
			continue
		}
		for i, field := range index {
			order := 1
			if i == len(index)-1 {
				order = f.Order
			}
			add(SortField{Field: field, Order: order})
		}
	}
	return out
}
