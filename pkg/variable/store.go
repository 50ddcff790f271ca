// Package variable implements the scoped variable store backing flow
// execution: typed variables in global/local/temporary scopes, dotted-path
// lookup into nested values, and ${...} template substitution.
package variable

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"

	"github.com/browsergrid/flowkit/pkg/core"
)

// Scope identifies a variable scope. Reads resolve temporary before local
// before global; writes go to the scope where the name already lives.
type Scope string

// Scope constants.
const (
	ScopeGlobal    Scope = "global"
	ScopeLocal     Scope = "local"
	ScopeTemporary Scope = "temp"
)

// readOrder is the scope priority for reads, highest first.
var readOrder = []Scope{ScopeTemporary, ScopeLocal, ScopeGlobal}

// ValidScope reports whether s names a known scope.
func ValidScope(s Scope) bool {
	return s == ScopeGlobal || s == ScopeLocal || s == ScopeTemporary
}

// Type is the declared type of a variable.
type Type string

// Type constants.
const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeList    Type = "list"
	TypeMap     Type = "map"
)

// Variable holds a single stored value with its metadata.
type Variable struct {
	Name        string      `json:"name"`
	Value       interface{} `json:"value"`
	Type        Type        `json:"type"`
	Description string      `json:"description,omitempty"`
	ModifiedAt  time.Time   `json:"modified_at"`
}

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a thread-safe scoped variable store.
type Store struct {
	mu     sync.RWMutex
	scopes map[Scope]map[string]*Variable
}

// NewStore returns an empty store with all three scopes initialized.
func NewStore() *Store {
	return &Store{
		scopes: map[Scope]map[string]*Variable{
			ScopeGlobal:    {},
			ScopeLocal:     {},
			ScopeTemporary: {},
		},
	}
}

// Create adds a new variable. The value is coerced to typ; when typ is empty
// it is inferred from the value. Creating a name that already exists in the
// target scope fails without mutating anything.
func (s *Store) Create(name string, value interface{}, typ Type, scope Scope, description string) error {
	if !nameRe.MatchString(name) {
		return core.ErrInvalidVariableName.WithDetails(map[string]interface{}{"name": name})
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	if !ValidScope(scope) {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown variable scope %q", scope))
	}
	if typ == "" {
		typ = InferType(value)
	}
	coerced, err := Coerce(value, typ)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scopes[scope][name]; exists {
		return core.NewExecutionError(core.ErrCategoryVariable, "variable_exists",
			fmt.Sprintf("variable %q already exists in scope %q", name, scope))
	}
	s.scopes[scope][name] = &Variable{
		Name:        name,
		Value:       coerced,
		Type:        typ,
		Description: description,
		ModifiedAt:  time.Now(),
	}
	return nil
}

// Get returns the value of name, searching temporary, then local, then
// global scope.
func (s *Store) Get(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, scope := range readOrder {
		if v, ok := s.scopes[scope][name]; ok {
			return v.Value, true
		}
	}
	return nil, false
}

// GetDefault returns the value of name, or def when it does not exist.
func (s *Store) GetDefault(name string, def interface{}) interface{} {
	if v, ok := s.Get(name); ok {
		return v
	}
	return def
}

// GetInfo returns the full variable record and the scope it was found in.
func (s *Store) GetInfo(name string) (Variable, Scope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, scope := range readOrder {
		if v, ok := s.scopes[scope][name]; ok {
			return *v, scope, true
		}
	}
	return Variable{}, "", false
}

// Set updates an existing variable in place, coercing the new value to the
// variable's declared type. The variable is located with read priority. A
// name that does not exist in any scope is an error, not an implicit create.
func (s *Store) Set(name string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scope := range readOrder {
		if v, ok := s.scopes[scope][name]; ok {
			coerced, err := Coerce(value, v.Type)
			if err != nil {
				return err
			}
			v.Value = coerced
			v.ModifiedAt = time.Now()
			return nil
		}
	}
	return core.ErrVariableNotFound.WithMessage(fmt.Sprintf("variable %q does not exist", name))
}

// SetIn updates or creates a variable in a specific scope.
func (s *Store) SetIn(name string, value interface{}, scope Scope) error {
	if !ValidScope(scope) {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown variable scope %q", scope))
	}
	s.mu.Lock()
	if v, ok := s.scopes[scope][name]; ok {
		coerced, err := Coerce(value, v.Type)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		v.Value = coerced
		v.ModifiedAt = time.Now()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Create(name, value, "", scope, "")
}

// Delete removes name from the given scope. An empty scope removes the name
// from every scope. Returns whether anything was removed.
func (s *Store) Delete(name string, scope Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope != "" {
		if _, ok := s.scopes[scope][name]; ok {
			delete(s.scopes[scope], name)
			return true
		}
		return false
	}
	removed := false
	for _, vars := range s.scopes {
		if _, ok := vars[name]; ok {
			delete(vars, name)
			removed = true
		}
	}
	return removed
}

// ClearScope removes every variable in the given scope.
func (s *Store) ClearScope(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[scope]; ok {
		s.scopes[scope] = map[string]*Variable{}
	}
}

// ClearAll removes every variable in every scope.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope := range s.scopes {
		s.scopes[scope] = map[string]*Variable{}
	}
}

// Names returns the sorted variable names in one scope.
func (s *Store) Names(scope Scope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scopes[scope]))
	for name := range s.scopes[scope] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the currently visible name/value pairs with read priority
// applied. The returned map is a copy; values are shared.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := map[string]interface{}{}
	// Reverse priority so higher scopes overwrite lower ones.
	for i := len(readOrder) - 1; i >= 0; i-- {
		for name, v := range s.scopes[readOrder[i]] {
			snap[name] = v.Value
		}
	}
	return snap
}

// Lookup resolves a plain name or a dotted path into a nested list/map value,
// e.g. "user.profile.name". Path segments after the first traverse the stored
// value.
func (s *Store) Lookup(path string) (interface{}, bool) {
	if !strings.Contains(path, ".") {
		return s.Get(path)
	}
	head, rest, _ := strings.Cut(path, ".")
	root, ok := s.Get(head)
	if !ok {
		return nil, false
	}
	container := gabs.Wrap(root)
	if container == nil {
		return nil, false
	}
	// Numeric segments index into lists, everything else is a map key.
	cur := container
	for _, seg := range strings.Split(rest, ".") {
		if idx, err := strconv.Atoi(seg); err == nil && cur.Exists() {
			if children := cur.Children(); idx >= 0 && idx < len(children) {
				cur = children[idx]
				continue
			}
		}
		cur = cur.Search(seg)
		if cur == nil {
			return nil, false
		}
	}
	if cur == nil || cur.Data() == nil {
		return nil, false
	}
	return cur.Data(), true
}

// ExportJSON serializes one scope (or all scopes when scope is empty) to JSON.
func (s *Store) ExportJSON(scope Scope) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]map[string]*Variable{}
	if scope != "" {
		out[string(scope)] = s.scopes[scope]
	} else {
		for sc, vars := range s.scopes {
			out[string(sc)] = vars
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// ImportJSON loads variables from data produced by ExportJSON, replacing
// variables with matching names. Unknown scopes in the data are rejected.
func (s *Store) ImportJSON(data []byte) error {
	var in map[string]map[string]*Variable
	if err := json.Unmarshal(data, &in); err != nil {
		return core.ErrInvalidConfig.WithMessage("variable import is not valid JSON").WithCause(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc, vars := range in {
		scope := Scope(sc)
		if !ValidScope(scope) {
			return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown variable scope %q in import", sc))
		}
		for name, v := range vars {
			if v == nil || !nameRe.MatchString(name) {
				return core.ErrInvalidVariableName.WithDetails(map[string]interface{}{"name": name})
			}
			v.Name = name
			if v.Type == "" {
				v.Type = InferType(v.Value)
			}
			coerced, err := Coerce(v.Value, v.Type)
			if err != nil {
				return err
			}
			v.Value = coerced
			if v.ModifiedAt.IsZero() {
				v.ModifiedAt = time.Now()
			}
			s.scopes[scope][name] = v
		}
	}
	return nil
}

// InferType maps a Go value onto the closest variable type.
func InferType(value interface{}) Type {
	switch value.(type) {
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeInteger
	case float32, float64:
		return TypeNumber
	case []interface{}:
		return TypeList
	case map[string]interface{}:
		return TypeMap
	default:
		return TypeString
	}
}

// Coerce converts value to the given type, or fails with a typed error.
func Coerce(value interface{}, typ Type) (interface{}, error) {
	fail := func() (interface{}, error) {
		return nil, core.ErrCoercionFailed.WithDetails(map[string]interface{}{
			"value": fmt.Sprintf("%v", value),
			"type":  string(typ),
		})
	}
	switch typ {
	case TypeString:
		return FormatValue(value), nil
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return v, nil
		case int32:
			return int(v), nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case float32:
			return int(v), nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fail()
			}
			return n, nil
		}
		return fail()
	case TypeNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fail()
			}
			return f, nil
		}
		return fail()
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int:
			return v != 0, nil
		case int64:
			return v != 0, nil
		case float64:
			return v != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "1":
				return true, nil
			case "false", "no", "0":
				return false, nil
			}
			return fail()
		}
		return fail()
	case TypeList:
		switch v := value.(type) {
		case []interface{}:
			return v, nil
		case string:
			var list []interface{}
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				return fail()
			}
			return list, nil
		}
		return fail()
	case TypeMap:
		switch v := value.(type) {
		case map[string]interface{}:
			return v, nil
		case string:
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return fail()
			}
			return m, nil
		}
		return fail()
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown variable type %q", typ))
	}
}

// FormatValue renders a value the way template substitution does: booleans
// as true/false, numbers without a trailing .0, lists and maps as JSON.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case []interface{}, map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
