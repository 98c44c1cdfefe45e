// Package tags reconciles the tag shapes found in raw records into
// resource.Tag pairs and derives resource identifiers.
package tags

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/yairfalse/tally/internal/artifact"
	"github.com/yairfalse/tally/pkg/resource"
)

// Shape is the variant of a tag container.
type Shape int

const (
	// ShapeNone means no tag field is present.
	ShapeNone Shape = iota
	// ShapeKVList is a sequence of {Key, Value} objects.
	ShapeKVList
	// ShapeFlatMap is a single object mapping keys to values.
	ShapeFlatMap
	// ShapeUnrecognized is a tag field of any other shape.
	ShapeUnrecognized
)

func (s Shape) String() string {
	switch s {
	case ShapeKVList:
		return "kv_list"
	case ShapeFlatMap:
		return "flat_map"
	case ShapeUnrecognized:
		return "unrecognized"
	default:
		return "none"
	}
}

// Fields are the record fields that may hold tags, in lookup order.
var Fields = []string{"Tags", "TagList", "tags", "TagSet", "TagSpecifications"}

// Container is the tag field of a record resolved to its shape.
type Container struct {
	Field string
	Shape Shape
	List  []any
	Map   map[string]any
}

// Detect resolves the first present tag field of a record.
func Detect(record resource.Record) Container {
	obj, ok := record.(map[string]any)
	if !ok {
		return Container{}
	}

	for _, field := range Fields {
		raw, present := obj[field]
		if !present {
			continue
		}
		switch v := raw.(type) {
		case []any:
			return Container{Field: field, Shape: ShapeKVList, List: v}
		case map[string]any:
			return Container{Field: field, Shape: ShapeFlatMap, Map: v}
		default:
			return Container{Field: field, Shape: ShapeUnrecognized}
		}
	}

	return Container{}
}

// Extract returns the tags of a record. Duplicate keys are preserved.
func Extract(record resource.Record) []resource.Tag {
	c := Detect(record)

	switch c.Shape {
	case ShapeKVList:
		tags := make([]resource.Tag, 0, len(c.List))
		for _, item := range c.List {
			if tag, ok := pair(item); ok {
				tags = append(tags, tag)
			}
		}
		return tags

	case ShapeFlatMap:
		keys := make([]string, 0, len(c.Map))
		for k := range c.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		tags := make([]resource.Tag, 0, len(keys))
		for _, k := range keys {
			tags = append(tags, resource.Tag{Key: k, Value: Stringify(c.Map[k])})
		}
		return tags
	}

	return nil
}

// pair reads a KV list element. Both members of one spelling must be present.
func pair(item any) (resource.Tag, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return resource.Tag{}, false
	}
	for _, names := range [][2]string{{"Key", "Value"}, {"key", "value"}} {
		k, hasKey := obj[names[0]]
		v, hasValue := obj[names[1]]
		if hasKey && hasValue {
			return resource.Tag{Key: Stringify(k), Value: Stringify(v)}, true
		}
	}
	return resource.Tag{}, false
}

// IdentifierFields are tried in order before the *Id fallback.
var IdentifierFields = []string{
	"ResourceId", "Id", "id", "ARN", "Arn", "arn", "Name", "name",
	"InstanceId", "VolumeId", "VpcId", "SubnetId", "GroupId", "BucketName",
	"DBInstanceIdentifier", "ClusterIdentifier", "FunctionName",
	"LoadBalancerName", "LoadBalancerArn", "QueueUrl", "TopicArn", "KeyId",
	"SecretId", "FileSystemId", "ClusterName", "RepositoryName",
}

// Identify derives a resource identifier from a record.
func Identify(record resource.Record) string {
	obj, ok := record.(map[string]any)
	if !ok {
		return resource.UnknownID
	}

	for _, field := range IdentifierFields {
		if v, present := obj[field]; present && v != nil {
			if id := Stringify(v); id != "" {
				return id
			}
		}
	}

	fields := make([]string, 0, len(obj))
	for k := range obj {
		if strings.HasSuffix(k, "Id") || strings.HasSuffix(k, "ID") {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	for _, field := range fields {
		if v := obj[field]; v != nil {
			if id := Stringify(v); id != "" {
				return id
			}
		}
	}

	return resource.UnknownID
}

// Stringify renders a JSON-native value as a tag value or identifier.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Describe builds a descriptor for a record collected under key. Non-object
// records are not resources and report false.
func Describe(key artifact.Key, record resource.Record) (resource.Descriptor, bool) {
	if _, ok := record.(map[string]any); !ok {
		return resource.Descriptor{}, false
	}

	tags := Extract(record)
	return resource.Descriptor{
		AccountID:   key.AccountID,
		Service:     key.Service,
		Region:      key.Region,
		Operation:   key.Operation,
		ResultField: key.ResultField,
		ResourceID:  Identify(record),
		Tags:        tags,
		TagCount:    len(tags),
	}, true
}
