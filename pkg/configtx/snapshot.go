package configtx

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Path addresses a node of a config document, one map key per element.
type Path []string

// ParsePath splits a slash separated path such as "channel_group/groups/Application".
func ParsePath(s string) Path {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}
	}
	return Path(strings.Split(s, "/"))
}

// Join returns a new path with elems appended.
func (p Path) Join(elems ...string) Path {
	joined := make(Path, 0, len(p)+len(elems))
	joined = append(joined, p...)
	return append(joined, elems...)
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Snapshot is an immutable JSON document of a channel config. Every accessor
// hands out copies and every change returns a new Snapshot.
type Snapshot struct {
	root interface{}
}

// NewSnapshot parses a JSON document. Numbers are kept verbatim.
func NewSnapshot(doc []byte) (Snapshot, error) {
	root, err := decodeJSON(doc)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "failed to parse config document")
	}
	return Snapshot{root: root}, nil
}

// IsZero reports whether the snapshot holds no document.
func (s Snapshot) IsZero() bool {
	return s.root == nil
}

// Bytes returns the JSON encoding of the document.
func (s Snapshot) Bytes() ([]byte, error) {
	return json.Marshal(s.root)
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return s.Bytes()
}

// Has reports whether path exists.
func (s Snapshot) Has(path Path) bool {
	_, ok := lookup(s.root, path)
	return ok
}

// Get returns a copy of the value at path.
func (s Snapshot) Get(path Path) (interface{}, bool) {
	v, ok := lookup(s.root, path)
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Sub returns the sub-document at path as its own snapshot.
func (s Snapshot) Sub(path Path) (Snapshot, bool) {
	v, ok := s.Get(path)
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{root: v}, true
}

// Decode unmarshals the value at path into out.
func (s Snapshot) Decode(path Path, out interface{}) error {
	v, ok := lookup(s.root, path)
	if !ok {
		return errors.Errorf("path %s not found", path)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", path)
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "failed to unmarshal %s", path)
}

// WithChange returns a copy of s with value stored at path. Missing
// intermediate maps are created. value may be a Snapshot or anything that
// marshals to JSON.
func (s Snapshot) WithChange(path Path, value interface{}) (Snapshot, error) {
	v, err := normalize(value)
	if err != nil {
		return Snapshot{}, errors.WithMessagef(err, "invalid value for %s", path)
	}
	if len(path) == 0 {
		return Snapshot{root: v}, nil
	}

	root := deepCopy(s.root)
	if root == nil {
		root = map[string]interface{}{}
	}
	node, ok := root.(map[string]interface{})
	if !ok {
		return Snapshot{}, errors.New("config document root is not an object")
	}

	for i, key := range path[:len(path)-1] {
		next, exists := node[key]
		if !exists || next == nil {
			child := map[string]interface{}{}
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return Snapshot{}, errors.Errorf("%s is not an object", path[:i+1])
		}
		node = child
	}
	node[path[len(path)-1]] = v
	return Snapshot{root: root}, nil
}

// Equal compares two documents structurally.
func (s Snapshot) Equal(other Snapshot) bool {
	return reflect.DeepEqual(s.root, other.root)
}

func lookup(root interface{}, path Path) (interface{}, bool) {
	node := root
	for _, key := range path {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, node != nil || len(path) == 0
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, child := range t {
			m[k] = deepCopy(child)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, child := range t {
			l[i] = deepCopy(child)
		}
		return l
	default:
		return t
	}
}

func normalize(value interface{}) (interface{}, error) {
	if s, ok := value.(Snapshot); ok {
		return deepCopy(s.root), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw)
}

func decodeJSON(doc []byte) (interface{}, error) {
	var root interface{}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	return root, nil
}
