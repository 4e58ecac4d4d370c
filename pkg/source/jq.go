package source

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"plex/pkg/multiplex"
)

// JQ resolves identifiers against a JSON manifest. The query runs with the
// identifier bound to $id; its first string result is the locator.
// Immutable
type JQ struct {
	manifest any
	code     *gojq.Code
	logger   *zap.Logger
}

var _ multiplex.LocatorSource[string] = (*JQ)(nil)

// NewJQ parses manifest and compiles query, e.g. `.sizes[$id].url`.
func NewJQ(manifest []byte, query string, logger *zap.Logger) (*JQ, error) {
	var data any
	if err := json.Unmarshal(manifest, &data); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", query, err)
	}
	code, err := gojq.Compile(q, gojq.WithVariables([]string{"$id"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile query %q: %w", query, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JQ{manifest: data, code: code, logger: logger}, nil
}

func (j *JQ) LocatorFor(id string) (multiplex.Locator, bool) {
	iter := j.code.Run(j.manifest, id)
	for {
		v, ok := iter.Next()
		if !ok {
			return "", false
		}
		switch x := v.(type) {
		case error:
			j.logger.Debug("manifest query failed", zap.String("id", id), zap.Error(x))
			return "", false
		case string:
			if x != "" {
				return multiplex.Locator(x), true
			}
		}
	}
}

// Identifiers runs query without $id and returns its string results, for
// deriving a ranking from the manifest itself.
func Identifiers(manifest []byte, query string) ([]string, error) {
	var data any
	if err := json.Unmarshal(manifest, &data); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", query, err)
	}
	var ids []string
	iter := q.Run(data)
	for {
		v, ok := iter.Next()
		if !ok {
			return ids, nil
		}
		switch x := v.(type) {
		case error:
			return nil, fmt.Errorf("query %q: %w", query, x)
		case string:
			ids = append(ids, x)
		default:
			return nil, fmt.Errorf("query %q returned %T, want string", query, v)
		}
	}
}
