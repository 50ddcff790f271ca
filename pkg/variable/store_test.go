package variable

import (
	"errors"
	"reflect"
	"testing"

	"github.com/browsergrid/flowkit/pkg/core"
)

func TestCreate_InferredTypes(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  Type
	}{
		{"s", "hello", TypeString},
		{"i", 42, TypeInteger},
		{"n", 3.14, TypeNumber},
		{"b", true, TypeBoolean},
		{"l", []interface{}{1, 2}, TypeList},
		{"m", map[string]interface{}{"k": "v"}, TypeMap},
	}

	s := NewStore()
	for _, tt := range tests {
		if err := s.Create(tt.name, tt.value, "", ScopeGlobal, ""); err != nil {
			t.Fatalf("Create(%s): %v", tt.name, err)
		}
		info, _, ok := s.GetInfo(tt.name)
		if !ok {
			t.Fatalf("GetInfo(%s): not found", tt.name)
		}
		if info.Type != tt.want {
			t.Errorf("type of %s = %s, want %s", tt.name, info.Type, tt.want)
		}
	}
}

func TestCreate_InvalidName(t *testing.T) {
	s := NewStore()
	for _, name := range []string{"", "7days", "has space", "a-b", "x.y"} {
		if err := s.Create(name, 1, "", ScopeGlobal, ""); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestCreate_DuplicateInScope(t *testing.T) {
	s := NewStore()
	if err := s.Create("x", 1, "", ScopeGlobal, ""); err != nil {
		t.Fatal(err)
	}
	err := s.Create("x", 2, "", ScopeGlobal, "")
	if err == nil {
		t.Fatal("duplicate Create should fail")
	}
	if got, _ := s.Get("x"); got != 1 {
		t.Errorf("failed Create mutated the variable: got %v", got)
	}

	// Same name in another scope is allowed.
	if err := s.Create("x", 2, "", ScopeLocal, ""); err != nil {
		t.Errorf("Create in other scope failed: %v", err)
	}
}

func TestCreate_CoercionFailureDoesNotMutate(t *testing.T) {
	s := NewStore()
	err := s.Create("x", "not a number", TypeInteger, ScopeGlobal, "")
	if err == nil {
		t.Fatal("expected coercion failure")
	}
	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) || execErr.Code != "coercion_failed" {
		t.Errorf("unexpected error: %v", err)
	}
	if _, ok := s.Get("x"); ok {
		t.Error("variable exists after failed Create")
	}
}

func TestGet_ScopePriority(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "x", "global", ScopeGlobal)
	if got, _ := s.Get("x"); got != "global" {
		t.Errorf("got %v, want global", got)
	}

	mustCreate(t, s, "x", "local", ScopeLocal)
	if got, _ := s.Get("x"); got != "local" {
		t.Errorf("got %v, want local", got)
	}

	mustCreate(t, s, "x", "temp", ScopeTemporary)
	if got, _ := s.Get("x"); got != "temp" {
		t.Errorf("got %v, want temp", got)
	}

	s.Delete("x", ScopeTemporary)
	if got, _ := s.Get("x"); got != "local" {
		t.Errorf("after temp delete got %v, want local", got)
	}
}

func TestSet_CoercesToDeclaredType(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "count", 5, ScopeGlobal)

	// String value coerced to the declared integer type.
	if err := s.Set("count", "12"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("count")
	if got != 12 {
		t.Errorf("got %v (%T), want int 12", got, got)
	}

	if err := s.Set("count", "not a number"); err == nil {
		t.Error("Set with uncoercible value should fail")
	}
	if got, _ := s.Get("count"); got != 12 {
		t.Errorf("failed Set mutated the variable: got %v", got)
	}
}

func TestSet_UnknownNameFails(t *testing.T) {
	s := NewStore()
	err := s.Set("fresh", 2.5)
	if err == nil {
		t.Fatal("Set on an absent name should fail, not create")
	}
	if got := core.ErrorCode(err); got != "variable_not_found" {
		t.Errorf("error code = %q, want variable_not_found", got)
	}
	if _, ok := s.Get("fresh"); ok {
		t.Error("failed Set created the variable anyway")
	}
}

func TestSet_UpdatesHighestPriorityScope(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "x", "global", ScopeGlobal)
	mustCreate(t, s, "x", "temp", ScopeTemporary)

	if err := s.Set("x", "changed"); err != nil {
		t.Fatal(err)
	}
	_, scope, _ := s.GetInfo("x")
	if scope != ScopeTemporary {
		t.Errorf("Set wrote to %q, want temp", scope)
	}
	s.Delete("x", ScopeTemporary)
	if got, _ := s.Get("x"); got != "global" {
		t.Errorf("global shadowed value changed: %v", got)
	}
}

func TestDelete_AllScopes(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "x", 1, ScopeGlobal)
	mustCreate(t, s, "x", 2, ScopeLocal)

	if !s.Delete("x", "") {
		t.Fatal("Delete should report removal")
	}
	if _, ok := s.Get("x"); ok {
		t.Error("variable still visible after delete-all")
	}
	if s.Delete("x", "") {
		t.Error("second delete should report nothing removed")
	}
}

func TestClearScope(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "keep", 1, ScopeGlobal)
	mustCreate(t, s, "drop", 2, ScopeTemporary)

	s.ClearScope(ScopeTemporary)
	if _, ok := s.Get("drop"); ok {
		t.Error("temp variable survived ClearScope")
	}
	if _, ok := s.Get("keep"); !ok {
		t.Error("global variable lost by ClearScope(temp)")
	}
}

func TestSnapshot_AppliesPriority(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "a", "global", ScopeGlobal)
	mustCreate(t, s, "a", "temp", ScopeTemporary)
	mustCreate(t, s, "b", "local", ScopeLocal)

	snap := s.Snapshot()
	want := map[string]interface{}{"a": "temp", "b": "local"}
	if !reflect.DeepEqual(snap, want) {
		t.Errorf("Snapshot() = %v, want %v", snap, want)
	}
}

func TestLookup_DottedPath(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "user", map[string]interface{}{
		"profile": map[string]interface{}{"name": "ada"},
		"tags":    []interface{}{"admin", "ops"},
	}, ScopeGlobal)

	got, ok := s.Lookup("user.profile.name")
	if !ok || got != "ada" {
		t.Errorf("Lookup(user.profile.name) = %v, %v", got, ok)
	}

	got, ok = s.Lookup("user.tags.1")
	if !ok || got != "ops" {
		t.Errorf("Lookup(user.tags.1) = %v, %v", got, ok)
	}

	if _, ok := s.Lookup("user.profile.missing"); ok {
		t.Error("missing path should not resolve")
	}
	if _, ok := s.Lookup("ghost.name"); ok {
		t.Error("missing root should not resolve")
	}
}

func TestExportImportJSON(t *testing.T) {
	s := NewStore()
	mustCreate(t, s, "url", "https://example.com", ScopeGlobal)
	mustCreate(t, s, "count", 7, ScopeLocal)

	data, err := s.ExportJSON("")
	if err != nil {
		t.Fatal(err)
	}

	restored := NewStore()
	if err := restored.ImportJSON(data); err != nil {
		t.Fatal(err)
	}
	if got, _ := restored.Get("url"); got != "https://example.com" {
		t.Errorf("url = %v", got)
	}
	info, scope, _ := restored.GetInfo("count")
	if scope != ScopeLocal || info.Type != TypeInteger {
		t.Errorf("count restored as %s in %s", info.Type, scope)
	}

	// JSON numbers arrive as float64; the declared type must win.
	if got, _ := restored.Get("count"); got != 7 {
		t.Errorf("count = %v (%T), want int 7", got, got)
	}
}

func TestImportJSON_RejectsBadInput(t *testing.T) {
	s := NewStore()
	if err := s.ImportJSON([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if err := s.ImportJSON([]byte(`{"cosmic": {"x": {"value": 1}}}`)); err == nil {
		t.Error("expected error for unknown scope")
	}
	if err := s.ImportJSON([]byte(`{"global": {"bad name": {"value": 1}}}`)); err == nil {
		t.Error("expected error for invalid name")
	}
}

func TestCoerce_Boolean(t *testing.T) {
	truthy := []interface{}{"true", "YES", "1", 1, 2.5, true}
	falsy := []interface{}{"false", "No", "0", 0, 0.0, false}

	for _, v := range truthy {
		got, err := Coerce(v, TypeBoolean)
		if err != nil || got != true {
			t.Errorf("Coerce(%v) = %v, %v; want true", v, got, err)
		}
	}
	for _, v := range falsy {
		got, err := Coerce(v, TypeBoolean)
		if err != nil || got != false {
			t.Errorf("Coerce(%v) = %v, %v; want false", v, got, err)
		}
	}
	if _, err := Coerce("maybe", TypeBoolean); err == nil {
		t.Error("Coerce(maybe) should fail")
	}
}

func TestCoerce_ListFromJSONString(t *testing.T) {
	got, err := Coerce(`[1, "two"]`, TypeList)
	if err != nil {
		t.Fatal(err)
	}
	list := got.([]interface{})
	if len(list) != 2 || list[1] != "two" {
		t.Errorf("got %v", list)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{nil, ""},
		{"x", "x"},
		{true, "true"},
		{3.0, "3"},
		{3.5, "3.5"},
		{42, "42"},
		{[]interface{}{1, 2}, "[1,2]"},
		{map[string]interface{}{"k": "v"}, `{"k":"v"}`},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.value); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func mustCreate(t *testing.T, s *Store, name string, value interface{}, scope Scope) {
	t.Helper()
	if err := s.Create(name, value, "", scope, ""); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
}
