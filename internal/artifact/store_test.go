package artifact

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/pkg/resource"
)

var testKey = Key{AccountID: "123456789012", Service: "ec2", Region: "us-east-1", Operation: "DescribeVpcs", ResultField: "Vpcs"}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "inventory"))
	require.NoError(t, err)
	return s
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	s := newStore(t)

	exists, err := s.Exists(testKey)
	require.NoError(t, err)
	assert.False(t, exists)

	records := []resource.Record{
		map[string]any{"VpcId": "vpc-1", "Tags": []any{map[string]any{"Key": "Env", "Value": "prod"}}},
		map[string]any{"VpcId": "vpc-2", "CidrBlock": "10.0.0.0/16", "IsDefault": true},
	}
	require.NoError(t, s.Write(testKey, records))

	exists, err = s.Exists(testKey)
	require.NoError(t, err)
	assert.True(t, exists)

	paths, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []string{s.Path(testKey)}, paths)

	key, got, err := s.Read(paths[0])
	require.NoError(t, err)
	assert.Equal(t, testKey, key)
	assert.Equal(t, records, got)
}

func TestEncode_StableFormat(t *testing.T) {
	data, err := Encode([]resource.Record{
		map[string]any{"b": 1, "a": "<x>", "c": json.Number("2.50")},
	})
	require.NoError(t, err)

	want := "[\n    {\n        \"a\": \"<x>\",\n        \"b\": 1,\n        \"c\": 2.50\n    }\n]\n"
	assert.Equal(t, want, string(data))
}

func TestEncode_NonPrimitivesAsStrings(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Encode([]resource.Record{map[string]any{"When": ts, "Ptr": &ts}})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ts.String(), decoded[0]["When"])
	assert.Equal(t, ts.String(), decoded[0]["Ptr"])
}

func TestEncode_Empty(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestStore_TextFallback(t *testing.T) {
	s := newStore(t)

	err := s.Write(testKey, []resource.Record{map[string]any{"Value": math.NaN()}})
	require.NoError(t, err, "serialization failures are not propagated")

	_, err = os.Stat(s.Path(testKey))
	assert.True(t, os.IsNotExist(err))

	text, err := os.ReadFile(filepath.Join(s.Dir(), testKey.String()+".txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "NaN")

	exists, err := s.Exists(testKey)
	require.NoError(t, err)
	assert.True(t, exists, "text fallback counts as collected")

	paths, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestStore_ReadSingleObject(t *testing.T) {
	s := newStore(t)
	path := s.Path(testKey)
	require.NoError(t, os.WriteFile(path, []byte(`{"VpcId": "vpc-1"}`), 0600))

	_, records, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []resource.Record{map[string]any{"VpcId": "vpc-1"}}, records)
}

func TestStore_ReadMalformed(t *testing.T) {
	s := newStore(t)

	path := s.Path(testKey)
	require.NoError(t, os.WriteFile(path, []byte(`{"broken"`), 0600))
	_, _, err := s.Read(path)
	assert.ErrorIs(t, err, ErrMalformed)

	require.NoError(t, os.WriteFile(path, []byte(`"scalar"`), 0600))
	_, _, err = s.Read(path)
	assert.ErrorIs(t, err, ErrMalformed)

	other := filepath.Join(s.Dir(), "notes.json")
	require.NoError(t, os.WriteFile(other, []byte(`[]`), 0600))
	_, _, err = s.Read(other)
	assert.ErrorIs(t, err, ErrBadFileName)
}

func TestStore_ListIgnoresTempAndOtherFiles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(testKey, nil))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".x.json.tmp-1"), []byte("["), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "readme.md"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub.json"), 0750))

	paths, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{s.Path(testKey)}, paths)
}
