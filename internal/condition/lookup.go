package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Lookup resolves a dotted path such as "pages.0.text" inside a JSON-shaped
// value. Numeric segments index into lists.
func Lookup(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}

	cur := root
	for _, seg := range strings.Split(path, ".") {
		next, ok := child(cur, seg)
		if !ok {
			i, err := strconv.Atoi(seg)
			if err != nil {
				return nil, false
			}
			if next, ok = element(cur, i); !ok {
				return nil, false
			}
		}
		cur = next
	}
	return cur, true
}

func child(cur interface{}, name string) (interface{}, bool) {
	switch m := cur.(type) {
	case map[string]interface{}:
		v, ok := m[name]
		return v, ok
	case map[string]string:
		v, ok := m[name]
		return v, ok
	case map[string]bool:
		v, ok := m[name]
		return v, ok
	}
	return nil, false
}

func element(cur interface{}, i int) (interface{}, bool) {
	switch l := cur.(type) {
	case []interface{}:
		if i >= 0 && i < len(l) {
			return l[i], true
		}
	case []map[string]interface{}:
		if i >= 0 && i < len(l) {
			return l[i], true
		}
	case []string:
		if i >= 0 && i < len(l) {
			return l[i], true
		}
	}
	return nil, false
}

// ToValue converts a scalar Go value into a cty value for comparison.
// Composite values cannot be compared and yield an error.
func ToValue(v interface{}) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int32:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case uint:
		return cty.NumberUIntVal(uint64(val)), nil
	case uint32:
		return cty.NumberUIntVal(uint64(val)), nil
	case uint64:
		return cty.NumberUIntVal(val), nil
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	case json.Number:
		return cty.ParseNumberVal(val.String())
	case map[string]interface{}, []interface{}:
		return cty.NilVal, fmt.Errorf("cannot compare a composite value")
	}
	return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
}

// floatValue goes through the shortest decimal form so that decoded JSON
// floats compare equal to the same literal written in a condition.
func floatValue(f float64) (cty.Value, error) {
	return cty.ParseNumberVal(strconv.FormatFloat(f, 'g', -1, 64))
}
