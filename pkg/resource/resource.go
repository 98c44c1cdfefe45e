// Package resource defines the normalized resource model for Tally.
package resource

import "sort"

// UnknownID is the identifier given to records with no identifying field.
const UnknownID = "unknown"

// Record is one raw element of an operation's result field, in JSON-native form
// (map[string]any, []any, string, json.Number, bool or nil).
type Record = any

// Tag is a single normalized key/value pair.
// Duplicate keys from malformed sources are preserved.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Descriptor is one raw record after tag normalization.
type Descriptor struct {
	AccountID   string `json:"account_id"`
	Service     string `json:"service"`
	Region      string `json:"region"`
	Operation   string `json:"method"`
	ResultField string `json:"resource_type"`
	ResourceID  string `json:"resource_id"`
	Tags        []Tag  `json:"tags"`
	TagCount    int    `json:"tag_count"`
}

// Tagged reports whether the resource carries at least one tag.
func (d Descriptor) Tagged() bool {
	return d.TagCount > 0
}

// TagKeys returns the set of tag keys on the resource.
func (d Descriptor) TagKeys() map[string]bool {
	keys := make(map[string]bool, len(d.Tags))
	for _, t := range d.Tags {
		keys[t.Key] = true
	}
	return keys
}

// HasTag reports whether the resource has a tag with the exact key and value.
func (d Descriptor) HasTag(key, value string) bool {
	for _, t := range d.Tags {
		if t.Key == key && t.Value == value {
			return true
		}
	}
	return false
}

// Labels flattens tags into a map. Later duplicates win.
func (d Descriptor) Labels() map[string]string {
	labels := make(map[string]string, len(d.Tags))
	for _, t := range d.Tags {
		labels[t.Key] = t.Value
	}
	return labels
}

// MissingKeys returns the required keys absent from the resource, sorted.
func (d Descriptor) MissingKeys(required []string) []string {
	have := d.TagKeys()
	seen := make(map[string]bool, len(required))
	var missing []string
	for _, k := range required {
		if have[k] || seen[k] {
			continue
		}
		seen[k] = true
		missing = append(missing, k)
	}
	sort.Strings(missing)
	return missing
}
