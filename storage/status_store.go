package storage

import (
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type StatusStore struct {
	mu     sync.RWMutex
	values []byte
}

func NewStatusStore() *StatusStore {
	return &StatusStore{values: []byte("{}")}
}

func (s *StatusStore) Set(path string, value interface{}) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values, err = sjson.SetBytes(s.values, path, value)
	return err
}

// SetRaw stores raw, which must already be valid JSON, at path.
func (s *StatusStore) SetRaw(path string, raw []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values, err = sjson.SetRawBytes(s.values, path, raw)
	return err
}

func (s *StatusStore) Get(path string) gjson.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// the result must not point into values, Set may reuse the buffer
	return gjson.Parse(gjson.GetBytes(s.values, path).Raw)
}

func (s *StatusStore) Delete(path string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values, err = sjson.DeleteBytes(s.values, path)
	return err
}

func (s *StatusStore) ForEach(fn func(key string, value gjson.Result) bool) {
	doc := s.Snapshot()

	gjson.ParseBytes(doc).ForEach(func(key, value gjson.Result) bool {
		return fn(key.String(), value)
	})
}

func (s *StatusStore) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]byte(nil), s.values...)
}

var _ Store = (*StatusStore)(nil)
