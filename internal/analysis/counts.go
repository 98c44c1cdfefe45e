package analysis

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
)

// Count is one entry of an ordered frequency table.
type Count struct {
	Key   string
	Count int
}

// Counts is a frequency table that keeps its order when encoded as a JSON
// object.
type Counts []Count

// MarshalJSON encodes the table as an object in slice order.
func (c Counts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, entry.Key, entry.Count); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the count for key.
func (c Counts) Get(key string) (int, bool) {
	for _, entry := range c {
		if entry.Key == key {
			return entry.Count, true
		}
	}
	return 0, false
}

// Keys returns the keys in table order.
func (c Counts) Keys() []string {
	keys := make([]string, len(c))
	for i, entry := range c {
		keys[i] = entry.Key
	}
	return keys
}

// KeyedCounts maps tag keys to value tables, in order.
type KeyedCounts []KeyCounts

// KeyCounts is the value table of one tag key.
type KeyCounts struct {
	Key    string
	Values Counts
}

// MarshalJSON encodes the tables as an object in slice order.
func (k KeyedCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range k {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, entry.Key, entry.Values); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// counter counts occurrences and remembers first-encounter order for ties.
type counter struct {
	index  map[string]int
	counts Counts
}

func newCounter() *counter {
	return &counter{index: make(map[string]int)}
}

func (c *counter) add(key string) {
	if i, ok := c.index[key]; ok {
		c.counts[i].Count++
		return
	}
	c.index[key] = len(c.counts)
	c.counts = append(c.counts, Count{Key: key, Count: 1})
}

func (c *counter) len() int {
	return len(c.counts)
}

// sorted returns the table by descending count, ties in first-encounter order.
func (c *counter) sorted() Counts {
	out := make(Counts, len(c.counts))
	copy(out, c.counts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

// percent returns part/total as a percentage rounded to two decimals, or 0
// when total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}
