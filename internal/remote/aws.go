package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tally/internal/catalog"
	"github.com/yairfalse/tally/internal/credentials"
	"github.com/yairfalse/tally/pkg/resource"
)

// cursor pairs an input token field with the output field carrying the next
// value. Order matters: outputs that echo the request marker also carry the
// real continuation under a Next* name, which must win.
type cursor struct {
	in, out string
}

var cursors = []cursor{
	{"NextToken", "NextToken"},
	{"Marker", "NextMarker"},
	{"Marker", "NextPageMarker"},
	{"ContinuationToken", "NextContinuationToken"},
	{"PageToken", "NextPageToken"},
	{"ExclusiveStartTableName", "LastEvaluatedTableName"},
	{"ExclusiveStartBackupArn", "LastEvaluatedBackupArn"},
	{"Marker", "Marker"},
	{"ContinuationToken", "ContinuationToken"},
}

var manualCursor = cursor{"NextToken", "NextToken"}

var truncationFields = []string{"IsTruncated", "Truncated", "HasMoreStreams"}

// AWSOptions tunes the AWS adapter.
type AWSOptions struct {
	MaxPages  int
	RateLimit float64
	RateBurst int
}

// AWS calls SDK client methods by name. Any operation with the SDK's
// (ctx, *Input, ...optFns) (*Output, error) shape can be collected.
type AWS struct {
	registry *Registry
	limiter  *Limiter
	maxPages int
}

// NewAWS creates the adapter.
func NewAWS(registry *Registry, opts AWSOptions) *AWS {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	return &AWS{
		registry: registry,
		limiter:  NewLimiter(opts.RateLimit, opts.RateBurst),
		maxPages: opts.MaxPages,
	}
}

// Collect implements Collector.
func (a *AWS) Collect(ctx context.Context, cred credentials.Credential, call Call) ([]resource.Record, error) {
	factory, ok := a.registry.Lookup(call.Service)
	if !ok {
		return nil, unsupported(call, "no client registered for service %q", call.Service)
	}

	cfg := cred.Config.Copy()
	cfg.Region = call.Region
	client := factory(cfg)

	method := reflect.ValueOf(client).MethodByName(call.Operation)
	if !method.IsValid() {
		return nil, unsupported(call, "operation %s not found on %T", call.Operation, client)
	}
	if err := checkSignature(method.Type()); err != nil {
		return nil, unsupported(call, "operation %s: %v", call.Operation, err)
	}

	params := Params(call)
	fetch := func(ctx context.Context, token string) (Page, error) {
		return a.page(ctx, call, method, params, token)
	}

	records, err := Traverse(ctx, call.Strategy, fetch, a.maxPages)
	if err != nil {
		return nil, newError(call, err)
	}

	log.Debug().
		Str("service", call.Service).
		Str("operation", call.Operation).
		Str("region", call.Region).
		Int("records", len(records)).
		Msg("collected")
	return records, nil
}

func (a *AWS) page(ctx context.Context, call Call, method reflect.Value, params map[string]any, token string) (Page, error) {
	mt := method.Type()
	in := reflect.New(mt.In(1).Elem())

	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return Page{}, unsupported(call, "encode params: %v", err)
		}
		if err := json.Unmarshal(raw, in.Interface()); err != nil {
			return Page{}, unsupported(call, "decode params into %s: %v", mt.In(1).Elem().Name(), err)
		}
	}
	if token != "" {
		if !setToken(in.Elem(), call.Strategy, token) {
			return Page{}, unsupported(call, "no continuation field on %s", mt.In(1).Elem().Name())
		}
	}

	if err := a.limiter.Wait(ctx, call.Service); err != nil {
		return Page{}, err
	}

	results := method.Call([]reflect.Value{reflect.ValueOf(ctx), in})
	if errVal := results[1]; !errVal.IsNil() {
		return Page{}, errVal.Interface().(error)
	}

	out := results[0]
	if out.Kind() == reflect.Ptr {
		if out.IsNil() {
			return Page{}, nil
		}
		out = out.Elem()
	}

	sf, ok := out.Type().FieldByName(call.ResultField)
	if !ok || !sf.IsExported() {
		return Page{}, unsupported(call, "result field %s not in %s", call.ResultField, out.Type().Name())
	}
	field := out.FieldByIndex(sf.Index)

	records, err := toRecords(field)
	if err != nil {
		return Page{}, unsupported(call, "convert %s: %v", call.ResultField, err)
	}

	next, more := continuation(out, call.Strategy)
	if next == "" {
		// list wrappers carry their own marker beside the items
		if inner := reflect.Indirect(field); inner.Kind() == reflect.Struct {
			next, more = continuation(inner, call.Strategy)
		}
	}
	return Page{Records: records, Next: next, More: more}, nil
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func checkSignature(mt reflect.Type) error {
	if mt.NumIn() < 2 || mt.In(0) != contextType {
		return fmt.Errorf("first argument is not a context")
	}
	if in := mt.In(1); in.Kind() != reflect.Ptr || in.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("second argument is not an input struct pointer")
	}
	if mt.NumIn() > 2 && !mt.IsVariadic() {
		return fmt.Errorf("unexpected extra arguments")
	}
	if mt.NumOut() != 2 || !mt.Out(1).Implements(errorType) {
		return fmt.Errorf("does not return (output, error)")
	}
	return nil
}

// setToken writes token into the first input field able to carry it.
func setToken(in reflect.Value, strategy catalog.Strategy, token string) bool {
	pairs := cursors
	if strategy == catalog.StrategyManualCursor {
		pairs = []cursor{manualCursor}
	}
	for _, c := range pairs {
		if setString(in.FieldByName(c.in), token) {
			return true
		}
	}
	return false
}

// continuation picks the first cursor pair whose output field exists on the
// output type, so the choice is stable across pages.
func continuation(out reflect.Value, strategy catalog.Strategy) (string, bool) {
	pairs := cursors
	if strategy == catalog.StrategyManualCursor {
		pairs = []cursor{manualCursor}
	}

	next := ""
	for _, c := range pairs {
		f := out.FieldByName(c.out)
		if !f.IsValid() {
			continue
		}
		if s, ok := stringValue(f); ok {
			next = s
			break
		}
	}

	for _, name := range truncationFields {
		if b, ok := boolValue(out.FieldByName(name)); ok {
			return next, b
		}
	}
	return next, next != ""
}

func setString(f reflect.Value, s string) bool {
	if !f.IsValid() || !f.CanSet() {
		return false
	}
	switch {
	case f.Kind() == reflect.String:
		f.SetString(s)
		return true
	case f.Kind() == reflect.Ptr && f.Type().Elem().Kind() == reflect.String:
		p := reflect.New(f.Type().Elem())
		p.Elem().SetString(s)
		f.Set(p)
		return true
	}
	return false
}

func stringValue(f reflect.Value) (string, bool) {
	switch {
	case f.Kind() == reflect.String:
		return f.String(), true
	case f.Kind() == reflect.Ptr && f.Type().Elem().Kind() == reflect.String:
		if f.IsNil() {
			return "", true
		}
		return f.Elem().String(), true
	}
	return "", false
}

func boolValue(f reflect.Value) (bool, bool) {
	if !f.IsValid() {
		return false, false
	}
	switch {
	case f.Kind() == reflect.Bool:
		return f.Bool(), true
	case f.Kind() == reflect.Ptr && f.Type().Elem().Kind() == reflect.Bool:
		if f.IsNil() {
			return false, true
		}
		return f.Elem().Bool(), true
	}
	return false, false
}

// toRecords converts the result field into JSON-native records. A slice
// yields one record per element; any other value is a single record.
func toRecords(field reflect.Value) ([]resource.Record, error) {
	raw, err := json.Marshal(field.Interface())
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	default:
		return []resource.Record{t}, nil
	}
}
