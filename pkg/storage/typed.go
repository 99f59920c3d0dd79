package storage

// GetTyped decodes module/key into a T. It returns false if the key is
// missing or does not decode as T.
func GetTyped[T any](s *Store, module, key string) (T, bool) {
	var zero T
	var v T
	ok, err := s.Get(module, key, &v)
	if !ok || err != nil {
		return zero, false
	}
	return v, true
}

// SetTyped stores a T under module/key.
func SetTyped[T any](s *Store, module, key string, value T) error {
	return s.Set(module, key, value)
}
