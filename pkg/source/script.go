package source

import (
	"fmt"
	"sync"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.uber.org/zap"

	"plex/pkg/multiplex"
)

// Script is a data source written in Starlark. The script must define
// locate(id), returning a locator string or None. It may define ranking(),
// returning the identifiers best first.
//
//	def ranking():
//	    return ["large", "medium", "thumb"]
//
//	def locate(id):
//	    return "https://cdn.example.com/%s/photo.jpg" % id
//
// Mutable
type Script struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	thread  *starlark.Thread
	globals starlark.StringDict
}

var _ multiplex.LocatorSource[string] = (*Script)(nil)

// NewScript executes source. print() output goes to logger at info level.
func NewScript(name, source string, logger *zap.Logger) (*Script, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Script{name: name, logger: logger}
	s.thread = &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			logger.Info(msg, zap.String("script", thread.Name))
		},
	}

	builtins := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
	}
	globals, err := starlark.ExecFile(s.thread, name, source, builtins)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", name, err)
	}
	if _, ok := globals["locate"].(starlark.Callable); !ok {
		return nil, fmt.Errorf("script %s does not define locate(id)", name)
	}
	s.globals = globals
	return s, nil
}

func (s *Script) LocatorFor(id string) (multiplex.Locator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := starlark.Call(s.thread, s.globals["locate"], starlark.Tuple{starlark.String(id)}, nil)
	if err != nil {
		s.logger.Warn("locate failed", zap.String("script", s.name), zap.String("id", id), zap.Error(err))
		return "", false
	}
	switch x := v.(type) {
	case starlark.String:
		if x == "" {
			return "", false
		}
		return multiplex.Locator(x), true
	case starlark.NoneType:
		return "", false
	default:
		s.logger.Warn("locate returned a non-string",
			zap.String("script", s.name), zap.String("id", id), zap.String("type", v.Type()))
		return "", false
	}
}

// Ranking calls ranking() if the script defines it.
func (s *Script) Ranking() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.globals["ranking"]
	if !ok {
		return nil, fmt.Errorf("script %s does not define ranking()", s.name)
	}
	v, err := starlark.Call(s.thread, fn, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("ranking returned %s, want a list", v.Type())
	}
	var ids []string
	it := iterable.Iterate()
	defer it.Done()
	var item starlark.Value
	for it.Next(&item) {
		str, ok := starlark.AsString(item)
		if !ok {
			return nil, fmt.Errorf("ranking contains %s, want strings", item.Type())
		}
		ids = append(ids, str)
	}
	return ids, nil
}
