// Package tagtransform runs user supplied Lua tag transforms on entities that
// passed the built-in tag filter.
//
// A script may define either or both of
//
//	function filter_tags_node(tags) return filter, tags end
//	function filter_tags_way(tags) return filter, tags end
//
// A filter value of 1 (or true) drops the entity. The returned table replaces
// the entity's tags.
package tagtransform

import (
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

// Script holds a loaded Lua state. Calls are serialized.
type Script struct {
	mu     sync.Mutex
	L      *lua.LState
	nodeFn lua.LValue
	wayFn  lua.LValue
}

// Load loads a Lua tag transform file
func Load(path string) (*Script, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read Lua file: %w", err)
	}
	return LoadString(string(code))
}

// LoadString loads Lua code from a string
func LoadString(code string) (*Script, error) {
	s := newScript()
	if err := s.L.DoString(code); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load Lua code: %w", err)
	}
	s.extractCallbacks()
	return s, nil
}

func newScript() *Script {
	return &Script{L: lua.NewState()}
}

func (s *Script) extractCallbacks() {
	s.nodeFn = s.L.GetGlobal("filter_tags_node")
	s.wayFn = s.L.GetGlobal("filter_tags_way")
}

// Close releases Lua resources
func (s *Script) Close() {
	s.L.Close()
}

// TransformNode runs filter_tags_node. Without that function tags pass unchanged.
func (s *Script) TransformNode(tags osmdata.Tags) (osmdata.Tags, error) {
	return s.call(s.nodeFn, tags)
}

// TransformWay runs filter_tags_way. Without that function tags pass unchanged.
func (s *Script) TransformWay(tags osmdata.Tags) (osmdata.Tags, error) {
	return s.call(s.wayFn, tags)
}

func (s *Script) call(fn lua.LValue, tags osmdata.Tags) (osmdata.Tags, error) {
	if fn == nil || fn.Type() != lua.LTFunction {
		return tags, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.L.NewTable()
	for k, v := range tags {
		in.RawSetString(k, lua.LString(v))
	}

	if err := s.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    2,
		Protect: true,
	}, in); err != nil {
		return nil, fmt.Errorf("lua tag transform error: %w", err)
	}

	filter := s.L.Get(-2)
	ret := s.L.Get(-1)
	s.L.Pop(2)

	if filter == lua.LTrue || (filter.Type() == lua.LTNumber && lua.LVAsNumber(filter) == 1) {
		return nil, nil
	}

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua tag transform returned %s instead of a table", ret.Type())
	}

	var out osmdata.Tags
	tbl.ForEach(func(k, v lua.LValue) {
		if out == nil {
			out = make(osmdata.Tags)
		}
		out[lua.LVAsString(k)] = lua.LVAsString(v)
	})
	return out, nil
}
