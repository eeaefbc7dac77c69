package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/models"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// scope is what step parameters can reference:
//
//	${name}                action parameter
//	${steps.<id>.<key>}    output of an earlier step
//	${context.user_id}     caller context
type scope struct {
	params  map[string]interface{}
	steps   map[string]models.JSONB
	context map[string]interface{}
}

func newScope(params map[string]interface{}, actx models.ActionContext) *scope {
	if params == nil {
		params = map[string]interface{}{}
	}
	return &scope{
		params: params,
		steps:  make(map[string]models.JSONB),
		context: map[string]interface{}{
			"user_id":    actx.UserID,
			"project_id": actx.ProjectID,
			"source":     actx.Source,
		},
	}
}

// interpolate replaces placeholders in data. A string that is exactly one
// placeholder takes the referenced value as is, so lists and numbers survive.
func (s *scope) interpolate(data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for key, value := range data {
		result[key] = s.interpolateValue(value)
	}
	return result
}

func (s *scope) interpolateValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(v); m != nil && m[0] == v {
			return s.lookup(m[1])
		}
		return placeholder.ReplaceAllStringFunc(v, func(ref string) string {
			val := s.lookup(ref[2 : len(ref)-1])
			if val == nil {
				return ""
			}
			return fmt.Sprint(val)
		})
	case map[string]interface{}:
		return s.interpolate(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.interpolateValue(item)
		}
		return out
	default:
		return value
	}
}

// lookup resolves a dotted path; unknown paths resolve to nil
func (s *scope) lookup(path string) interface{} {
	parts := strings.Split(strings.TrimSpace(path), ".")
	switch parts[0] {
	case "steps":
		if len(parts) < 3 {
			return nil
		}
		out, ok := s.steps[parts[1]]
		if !ok {
			return nil
		}
		return getPath(out, parts[2:])
	case "context":
		return getPath(s.context, parts[1:])
	default:
		return getPath(s.params, parts)
	}
}

func getPath(data map[string]interface{}, parts []string) interface{} {
	current := data
	for i, part := range parts {
		val, exists := current[part]
		if !exists {
			return nil
		}
		if i == len(parts)-1 {
			return val
		}
		switch next := val.(type) {
		case map[string]interface{}:
			current = next
		case models.JSONB:
			current = next
		default:
			return nil
		}
	}
	return nil
}

// missingParameters returns the required parameters absent from params
func missingParameters(required []string, params map[string]interface{}) []string {
	var missing []string
	for _, name := range required {
		v, ok := params[name]
		if !ok || v == nil || v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
