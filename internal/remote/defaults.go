package remote

// defaultParams fills in parameters some operations cannot be called without.
var defaultParams = map[string]map[string]any{
	"ssm/GetParametersByPath": {"Path": "/"},
}

// Params returns the call's parameters merged over the operation defaults.
// Explicit parameters win.
func Params(call Call) map[string]any {
	defaults := defaultParams[call.Service+"/"+call.Operation]
	if len(defaults) == 0 {
		return call.Params
	}

	merged := make(map[string]any, len(defaults)+len(call.Params))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range call.Params {
		merged[k] = v
	}
	return merged
}
