package storage

import (
	"errors"
	"fmt"
	"time"
)

// KVConfig contains settings specific to BadgerDB connections
type KVConfig struct {
	StorageDirPath  string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration  time.Duration `yaml:"keyTTL" json:"keyTTL"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"CleanupInterval"`
}

// UnmarshalYAML parses and validates a storage section. All three fields are
// required.
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the storage config: %v", err)
	}

	sp, ok := v["storageDir"]
	if !ok || sp == "" {
		return errors.New("the storage config must include a storageDir")
	}

	ttl, err := requiredDuration(v, "keyTTL")
	if err != nil {
		return err
	}

	ci, err := requiredDuration(v, "cleanupInterval")
	if err != nil {
		return err
	}

	c.StorageDirPath = sp
	c.KeyTTLDuration = ttl
	c.CleanupInterval = ci
	return nil
}

func requiredDuration(v map[string]string, key string) (time.Duration, error) {
	s, ok := v[key]
	if !ok {
		return 0, fmt.Errorf("the storage config must include %v", key)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("can't parse %v as a duration: %v", key, err)
	}
	return d, nil
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer. Assumes some kind of persistent KV store
// for delivery records.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
	// Persist exempts the entry from the store's key TTL.
	Persist bool
}
