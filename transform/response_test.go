package transform

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/deeplooplabs/perfopt/rules"
)

func makeItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{"id": i}
	}
	return items
}

func TestPaginate_Laws(t *testing.T) {
	r := rules.Defaults()
	items := makeItems(45)

	page := Paginate(items, 1, 10, r)
	if !reflect.DeepEqual(page.Data, items[0:10]) {
		t.Error("expected first page to equal items[0:10]")
	}
	if !page.Pagination.HasNext || page.Pagination.HasPrev {
		t.Errorf("unexpected flags on first page: %+v", page.Pagination)
	}
	if page.Pagination.Pages != 5 || page.Pagination.Total != 45 {
		t.Errorf("expected 5 pages of 45, got %+v", page.Pagination)
	}

	last := Paginate(items, 5, 10, r)
	if len(last.Data) != 5 || last.Pagination.HasNext {
		t.Errorf("unexpected last page: %d items, %+v", len(last.Data), last.Pagination)
	}

	beyond := Paginate(items, 9, 10, r)
	if len(beyond.Data) != 0 || !beyond.Pagination.HasPrev {
		t.Errorf("expected empty page with hasPrev, got %d items, %+v", len(beyond.Data), beyond.Pagination)
	}
}

func TestPaginate_HugePage(t *testing.T) {
	items := makeItems(30)

	page := Paginate(items, math.MaxInt/10, 20, rules.Defaults())
	if len(page.Data) != 0 {
		t.Errorf("expected an empty page, got %d items", len(page.Data))
	}
	if page.Pagination.HasNext || !page.Pagination.HasPrev || page.Pagination.Pages != 2 {
		t.Errorf("unexpected pagination: %+v", page.Pagination)
	}
}

func TestPaginate_Defaults(t *testing.T) {
	r := rules.Defaults()
	items := makeItems(300)

	page := Paginate(items, 0, 0, r)
	if page.Pagination.Page != 1 || page.Pagination.Limit != 20 {
		t.Errorf("expected page 1 limit 20, got %+v", page.Pagination)
	}

	capped := Paginate(items, 1, 1000, r)
	if capped.Pagination.Limit != 100 || len(capped.Data) != 100 {
		t.Errorf("expected limit capped at 100, got %+v", capped.Pagination)
	}
}

func TestRedact(t *testing.T) {
	data := map[string]any{
		"name":     "alice",
		"Password": "hunter2",
		"profile": map[string]any{
			"apiKey":      "abc",
			"accessToken": "t",
			"city":        "Paris",
		},
		"sessions": []any{
			map[string]any{"authHeader": "x", "id": 1},
		},
		"clientSecret": "s",
	}

	once := Redact(data)
	expected := map[string]any{
		"name":     "alice",
		"profile":  map[string]any{"city": "Paris"},
		"sessions": []any{map[string]any{"id": 1}},
	}
	if !reflect.DeepEqual(once, expected) {
		t.Errorf("expected %v, got %v", expected, once)
	}

	twice := Redact(once)
	if !reflect.DeepEqual(once, twice) {
		t.Error("expected redaction to be idempotent")
	}

	if _, ok := data["Password"]; !ok {
		t.Error("expected input to be untouched")
	}
}

func TestCompress_StripsNulls(t *testing.T) {
	data := map[string]any{
		"a": nil,
		"b": map[string]any{"c": nil, "d": 1},
		"e": []any{nil, 2, map[string]any{"f": nil}},
	}

	got := Compress(data)
	expected := map[string]any{
		"b": map[string]any{"d": 1},
		"e": []any{2, map[string]any{}},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestCompress_AliasesLargeArrays(t *testing.T) {
	small := []any{map[string]any{"createdAt": "now"}}
	if got := Compress(small).([]any)[0].(map[string]any); got["createdAt"] != "now" {
		t.Errorf("expected small arrays to keep names, got %v", got)
	}

	large := make([]any, 101)
	for i := range large {
		large[i] = map[string]any{"createdAt": "now", "orderNumber": i, "totalAmount": nil}
	}
	got := Compress(large).([]any)
	first := got[0].(map[string]any)
	if first["cAt"] != "now" || first["oNum"] != 0 {
		t.Errorf("expected aliased keys, got %v", first)
	}
	if _, ok := first["tAmt"]; ok {
		t.Errorf("expected null field stripped before aliasing, got %v", first)
	}
	if _, ok := large[0].(map[string]any)["createdAt"]; !ok {
		t.Error("expected input to be untouched")
	}
}

func TestOptimizeResponse_Unchanged(t *testing.T) {
	data := []any{map[string]any{"id": 1, "x": nil}}

	got, err := OptimizeResponse(data, ResponseOptions{}, rules.Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, data) {
		t.Errorf("expected input back, got %v", got)
	}
}

func TestOptimizeResponse_CompressThenPaginate(t *testing.T) {
	blob := strings.Repeat("x", 10*1024+1)
	items := make([]any, 150)
	for i := range items {
		items[i] = map[string]any{
			"partNumber": fmt.Sprintf("P-%03d", i),
			"createdAt":  "2024-01-01",
			"notes":      nil,
			"blob":       blob,
		}
	}

	got, err := OptimizeResponse(items, ResponseOptions{}, rules.Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	page, ok := got.(Page)
	if !ok {
		t.Fatalf("expected a page envelope, got %T", got)
	}
	if len(page.Data) != 20 || page.Pagination.Total != 150 || page.Pagination.Pages != 8 {
		t.Errorf("unexpected pagination: %d items, %+v", len(page.Data), page.Pagination)
	}
	first := page.Data[0].(map[string]any)
	if first["pNum"] != "P-000" || first["cAt"] != "2024-01-01" {
		t.Errorf("expected aliased keys, got keys of %v", keys(first))
	}
	if _, ok := first["notes"]; ok {
		t.Error("expected null fields to be stripped")
	}
}

func TestOptimizeResponse_CompressionShrinksBelowPageSize(t *testing.T) {
	r := rules.Defaults()
	r.Response.MaxResponseSize = 10

	items := make([]any, 25)
	for i := 0; i < 15; i++ {
		items[i] = map[string]any{"id": i}
	}

	got, err := OptimizeResponse(items, ResponseOptions{}, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := got.([]any)
	if !ok {
		t.Fatalf("expected a plain array after compression, got %T", got)
	}
	if len(list) != 15 {
		t.Errorf("expected nil elements stripped, got %d items", len(list))
	}
}

func TestOptimizeResponse_PaginateAndRedact(t *testing.T) {
	items := make([]any, 30)
	for i := range items {
		items[i] = map[string]any{"id": i, "token": "t"}
	}

	got, err := OptimizeResponse(items, ResponseOptions{Page: 2, Limit: 10, Redact: true}, rules.Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	page := got.(Page)
	if page.Pagination.Page != 2 || len(page.Data) != 10 {
		t.Errorf("unexpected page: %+v", page.Pagination)
	}
	first := page.Data[0].(map[string]any)
	if first["id"] != 10 {
		t.Errorf("expected page 2 to start at id 10, got %v", first["id"])
	}
	if _, ok := first["token"]; ok {
		t.Error("expected token to be redacted")
	}
}

type user struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func TestOptimizeResponse_TypedInput(t *testing.T) {
	got, err := OptimizeResponse(user{Name: "bob", Password: "pw"}, ResponseOptions{Redact: true}, rules.Defaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"name": "bob"}) {
		t.Errorf("expected redacted map, got %v", got)
	}

	if _, err := OptimizeResponse(make(chan int), ResponseOptions{Redact: true}, rules.Defaults()); err == nil {
		t.Error("expected an error for unencodable input")
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
