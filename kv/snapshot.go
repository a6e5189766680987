package kv

import "encoding/json"

// encodeSnapshotLocked serializes the whole map. Caller must hold
// s.mutex (read or write lock is sufficient since it only reads).
func (s *Store) encodeSnapshotLocked() []byte {
	b, err := json.Marshal(s.data)
	if err != nil {
		s.log.WithError(err).Error("failed to encode snapshot")
		return nil
	}
	return b
}

func decodeSnapshot(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return make(map[string]string), nil
	}
	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
