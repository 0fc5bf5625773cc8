// Package transform contains the pure query and response transforms of the
// optimizer. Nothing here performs I/O or mutates its input.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deeplooplabs/perfopt/rules"
)

// aliasThreshold is the array length above which field names are aliased
const aliasThreshold = 100

var fieldAliases = map[string]string{
	"createdAt":    "cAt",
	"updatedAt":    "uAt",
	"partNumber":   "pNum",
	"totalAmount":  "tAmt",
	"customerInfo": "cInfo",
	"orderNumber":  "oNum",
}

var sensitiveFragments = []string{"password", "token", "secret", "key", "auth"}

// ResponseOptions control pagination and redaction of a response
type ResponseOptions struct {
	Page   int  `json:"page,omitempty"`
	Limit  int  `json:"limit,omitempty"`
	Redact bool `json:"redact,omitempty"`
}

// Pagination describes one page of a paginated array
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// Page is the envelope returned for paginated responses
type Page struct {
	Data       []any      `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// OptimizeResponse runs compression, pagination and redaction in that order.
// When none of them applies the input is returned as is.
func OptimizeResponse(data any, opts ResponseOptions, r rules.Rules) (any, error) {
	generic, err := normalize(data)
	if err != nil {
		return nil, err
	}

	compress := false
	if r.Response.EnableCompression {
		size, err := serializedSize(data)
		if err != nil {
			return nil, err
		}
		compress = size > r.Response.MaxResponseSize
	}

	out := generic
	if compress {
		out = Compress(out)
	}

	// compression drops nil elements, so the length is taken afterwards
	items, isArray := out.([]any)
	paginate := r.Response.EnablePagination && isArray && len(items) > r.Response.DefaultPageSize

	if !compress && !paginate && !opts.Redact {
		return data, nil
	}

	if paginate {
		out = Paginate(items, opts.Page, opts.Limit, r)
	}
	if opts.Redact {
		out = Redact(out)
	}
	return out, nil
}

// Compress strips nil values recursively. When the value is an array with
// more than 100 elements the long field names of each element are also
// replaced by short aliases.
func Compress(v any) any {
	out := stripNulls(v)

	items, ok := out.([]any)
	if !ok || len(items) <= aliasThreshold {
		return out
	}
	for i, item := range items {
		if obj, ok := item.(map[string]any); ok {
			items[i] = aliasFields(obj)
		}
	}
	return items
}

func stripNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if child == nil {
				continue
			}
			out[k] = stripNulls(child)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, child := range val {
			if child == nil {
				continue
			}
			out = append(out, stripNulls(child))
		}
		return out
	default:
		return v
	}
}

// aliasFields renames top-level keys. The map is a fresh copy from stripNulls.
func aliasFields(obj map[string]any) map[string]any {
	for long, short := range fieldAliases {
		if v, ok := obj[long]; ok {
			delete(obj, long)
			obj[short] = v
		}
	}
	return obj
}

// Paginate slices items into one page. Page defaults to 1, limit defaults to
// the rule's default page size and is capped at its maximum.
func Paginate(items []any, page, limit int, r rules.Rules) Page {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = r.Response.DefaultPageSize
	}
	if r.Response.MaxPageSize > 0 && limit > r.Response.MaxPageSize {
		limit = r.Response.MaxPageSize
	}
	if limit <= 0 {
		limit = len(items)
		if limit == 0 {
			limit = 1
		}
	}

	total := len(items)
	pages := (total + limit - 1) / limit

	// compare before multiplying so huge page numbers cannot overflow
	start, end := total, total
	if page-1 < pages {
		start = (page - 1) * limit
		end = min(start+limit, total)
	}

	return Page{
		Data: items[start:end:end],
		Pagination: Pagination{
			Page:    page,
			Limit:   limit,
			Total:   total,
			Pages:   pages,
			HasNext: page < pages,
			HasPrev: page > 1,
		},
	}
}

// Redact drops every object key whose lowercase name contains a sensitive
// fragment. Applying it twice gives the same result as once.
func Redact(v any) any {
	switch val := v.(type) {
	case Page:
		return Page{Data: Redact(val.Data).([]any), Pagination: val.Pagination}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if IsSensitive(k) {
				continue
			}
			out[k] = Redact(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Redact(child)
		}
		return out
	default:
		return v
	}
}

// IsSensitive reports whether a field name looks like a credential
func IsSensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// normalize converts arbitrary values into the generic JSON shape the
// transforms walk
func normalize(data any) (any, error) {
	switch data.(type) {
	case nil, map[string]any, []any, string, bool, float64, Page:
		return data, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func serializedSize(data any) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to measure response: %w", err)
	}
	return len(raw), nil
}
