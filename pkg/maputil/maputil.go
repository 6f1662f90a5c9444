package maputil

import "fmt"

// RecursivelyCastKeysToStrings converts yaml.v3's map[interface{}]interface{}
// trees into map[string]interface{} trees so jsonpath can traverse them.
func RecursivelyCastKeysToStrings(v interface{}) (interface{}, error) {
	switch typed := v.(type) {
	case map[interface{}]interface{}:
		res := map[string]interface{}{}
		for k, val := range typed {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected key type: want string, got %T: %v", k, k)
			}
			casted, err := RecursivelyCastKeysToStrings(val)
			if err != nil {
				return nil, err
			}
			res[s] = casted
		}
		return res, nil
	case map[string]interface{}:
		res := map[string]interface{}{}
		for k, val := range typed {
			casted, err := RecursivelyCastKeysToStrings(val)
			if err != nil {
				return nil, err
			}
			res[k] = casted
		}
		return res, nil
	case []interface{}:
		res := make([]interface{}, len(typed))
		for i := range typed {
			casted, err := RecursivelyCastKeysToStrings(typed[i])
			if err != nil {
				return nil, err
			}
			res[i] = casted
		}
		return res, nil
	default:
		return v, nil
	}
}
