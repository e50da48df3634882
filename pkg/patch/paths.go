package patch

import (
	"fmt"
	"sort"
	"strings"
)

// Document is a structured config file: nested maps, lists and scalars.
type Document = map[string]interface{}

// Transform maps the current document to the desired one. It receives a
// private deep copy and must not retain it.
type Transform func(doc Document) (Document, error)

// Set assigns value at a dot-separated key path such as "runtimes.nvidia.path",
// creating intermediate maps as needed. It fails when an intermediate segment
// holds a non-map value.
func Set(doc Document, path string, value interface{}) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}

	cur := doc
	for i, seg := range segments[:len(segments)-1] {
		next, exists := cur[seg]
		if !exists || next == nil {
			child := Document{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := asMap(next)
		if !ok {
			return fmt.Errorf("cannot set %s: %s is a %T, not a map",
				path, strings.Join(segments[:i+1], "."), next)
		}
		cur[seg] = child
		cur = child
	}
	cur[segments[len(segments)-1]] = value
	return nil
}

// Get returns the value at a dot-separated key path.
func Get(doc Document, path string) (interface{}, bool) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, false
	}

	var cur interface{} = doc
	for _, seg := range segments {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPaths returns a transform that assigns every path in values, in sorted path order.
func SetPaths(values map[string]interface{}) Transform {
	return func(doc Document) (Document, error) {
		paths := make([]string, 0, len(values))
		for p := range values {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if err := Set(doc, p, DeepCopy(values[p])); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}
}

// Merge returns a transform that recursively merges overlay into the document.
// Maps are merged key by key; any other value in overlay replaces the existing
// one. Keys absent from overlay are left untouched.
func Merge(overlay Document) Transform {
	return func(doc Document) (Document, error) {
		mergeInto(doc, overlay)
		return doc, nil
	}
}

// Chain composes transforms left to right.
func Chain(transforms ...Transform) Transform {
	return func(doc Document) (Document, error) {
		var err error
		for _, t := range transforms {
			doc, err = t(doc)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				doc = Document{}
			}
		}
		return doc, nil
	}
}

func mergeInto(dst, src Document) {
	for k, sv := range src {
		if sm, ok := asMap(sv); ok {
			if dm, ok := asMap(dst[k]); ok {
				mergeInto(dm, sm)
				dst[k] = dm
				continue
			}
		}
		dst[k] = DeepCopy(sv)
	}
}

// DeepCopy copies maps and slices recursively; scalars are returned as-is.
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		m, _ := DeepCopy(t).(map[string]interface{})
		return m, true
	default:
		return nil, false
	}
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty key path")
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("invalid key path %q", path)
		}
	}
	return segments, nil
}
