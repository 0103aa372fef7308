package ledger

import (
	"reflect"
	"sync"
)

// ExtractDBColumns returns the column names from T's "db" tags, in field order.
// Embedded structs are walked recursively.
func ExtractDBColumns[T any]() []string {
	var zero T
	meta := typeMeta(reflect.TypeOf(zero))
	cols := make([]string, 0, len(meta.fields))
	for _, f := range meta.fields {
		cols = append(cols, f.column)
	}
	return cols
}

// StructToMap converts a struct to column -> value using "db" tags.
// Columns listed in omit are skipped.
func StructToMap(v any, omit ...string) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := typeMeta(rv.Type())
	res := make(map[string]any, len(meta.fields))
	for _, f := range meta.fields {
		if contains(omit, f.column) {
			continue
		}
		res[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}

type columnField struct {
	index  []int
	column string
}

type columnMeta struct {
	fields []columnField
}

var columnCache sync.Map // map[reflect.Type]*columnMeta

func typeMeta(t reflect.Type) *columnMeta {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.(*columnMeta)
	}

	meta := &columnMeta{}
	if t.Kind() == reflect.Struct {
		collectColumns(t, nil, meta)
	}
	columnCache.Store(t, meta)
	return meta
}

func collectColumns(t reflect.Type, prefix []int, meta *columnMeta) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int{}, prefix...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectColumns(field.Type, index, meta)
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		meta.fields = append(meta.fields, columnField{index: index, column: tag})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
