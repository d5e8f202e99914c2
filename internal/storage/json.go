package storage

import "encoding/json"

// PutJSON marshals v and stores it under key.
func PutJSON(db *DB, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Put(key, raw)
}

// GetJSON reads key and unmarshals the stored value into v. Returns
// ErrNotFound when the key has never been written.
func GetJSON(db *DB, key string, v interface{}) error {
	raw, err := db.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
