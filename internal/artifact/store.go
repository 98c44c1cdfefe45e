package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tally/pkg/resource"
)

// ErrMalformed is returned for artifacts that are neither a JSON array nor a
// JSON object.
var ErrMalformed = errors.New("malformed artifact")

// Store keeps artifacts as files in a single directory.
type Store struct {
	dir string
}

// New opens (creating if needed) the artifact directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the JSON path for a key.
func (s *Store) Path(k Key) string {
	return filepath.Join(s.dir, k.FileName())
}

func (s *Store) textPath(k Key) string {
	return filepath.Join(s.dir, k.String()+".txt")
}

// Exists reports whether the key was already collected. A text fallback
// counts as collected.
func (s *Store) Exists(k Key) (bool, error) {
	for _, p := range []string{s.Path(k), s.textPath(k)} {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("stat artifact: %w", err)
		}
	}
	return false, nil
}

// Write stores the records for k. The file appears atomically. When the
// records cannot be encoded as JSON a plain-text rendering is stored instead
// and no error is returned.
func (s *Store) Write(k Key, records []resource.Record) error {
	data, err := Encode(records)
	if err != nil {
		log.Warn().Err(err).Str("artifact", k.String()).Msg("json encoding failed, writing text fallback")
		return writeAtomic(s.textPath(k), []byte(fmt.Sprintf("%v\n", records)))
	}
	return writeAtomic(s.Path(k), data)
}

// Encode renders records as indented JSON with sorted keys. Values without a
// JSON form are rendered as strings.
func Encode(records []resource.Record) ([]byte, error) {
	if records == nil {
		records = []resource.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(normalize(reflect.ValueOf(records))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize converts v into maps, slices and primitives so the encoder sorts
// every object's keys.
func normalize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if n, ok := v.Interface().(json.Number); ok {
		return n
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return normalize(v.Elem())
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = normalize(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value())
		}
		return out
	default:
		return fmt.Sprint(v.Interface())
	}
}

func writeAtomic(path string, data []byte) error {
	dir, name := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// List returns the paths of all JSON artifacts, sorted by file name.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Read loads an artifact. A top-level object is treated as a single record.
func (s *Store) Read(path string) (Key, []resource.Record, error) {
	key, err := ParseFileName(filepath.Base(path))
	if err != nil {
		return Key{}, nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from List
	if err != nil {
		return key, nil, fmt.Errorf("read artifact: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return key, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filepath.Base(path), err)
	}

	switch t := v.(type) {
	case []any:
		return key, t, nil
	case map[string]any:
		return key, []resource.Record{t}, nil
	default:
		return key, nil, fmt.Errorf("%w: %s: top-level %T", ErrMalformed, filepath.Base(path), v)
	}
}
