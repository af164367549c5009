package storage

import (
	"errors"
	"fmt"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	deliveryPrefix = "delivery/"
	lastCleanupKey = "meta/lastCleanup"
)

// Delivery records one message handed to an SMTP server.
type Delivery struct {
	MessageID string    `yaml:"messageID"`
	Host      string    `yaml:"host"`
	From      string    `yaml:"from"`
	To        []string  `yaml:"to"`
	SentAt    time.Time `yaml:"sentAt"`
}

// Journal keeps Deliveries in a KeyValue, keyed by message ID.
type Journal struct {
	kv KeyValue
}

// NewJournal returns a Journal backed by kv.
func NewJournal(kv KeyValue) *Journal {
	return &Journal{kv: kv}
}

func deliveryKey(id string) []byte {
	return []byte(deliveryPrefix + id)
}

// Record stores d, replacing any earlier record for the same message ID.
func (j *Journal) Record(d Delivery) error {
	if d.MessageID == "" {
		return errors.New("can't record a delivery without a message ID")
	}
	b, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("can't encode the delivery record: %v", err)
	}
	return j.kv.Put(KVEntry{Key: deliveryKey(d.MessageID), Value: b})
}

// Lookup returns the delivery recorded for id. ok is false if there is none.
func (j *Journal) Lookup(id string) (d Delivery, ok bool, err error) {
	e, err := j.kv.Read(deliveryKey(id))
	if errors.Is(err, ErrNotFound) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, err
	}
	if err := yaml.Unmarshal(e.Value, &d); err != nil {
		return Delivery{}, false, fmt.Errorf("can't decode the delivery record for %v: %v", id, err)
	}
	return d, true, nil
}

// Seen reports whether a message with this ID has been recorded.
func (j *Journal) Seen(id string) (bool, error) {
	_, ok, err := j.Lookup(id)
	return ok, err
}

// CleanupIfDue runs the store's Cleanup if the last one recorded in the
// journal was at least interval before now, and records now as the last
// cleanup. It reports whether a cleanup ran.
func (j *Journal) CleanupIfDue(interval time.Duration, now time.Time) (bool, error) {
	e, err := j.kv.Read([]byte(lastCleanupKey))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return false, err
	default:
		var last time.Time
		if err := last.UnmarshalText(e.Value); err == nil && now.Sub(last) < interval {
			return false, nil
		}
	}

	if err := j.kv.Cleanup(); err != nil {
		return false, err
	}
	b, err := now.UTC().MarshalText()
	if err != nil {
		return true, err
	}
	// The marker has to outlive keyTTL, which may be shorter than interval.
	return true, j.kv.Put(KVEntry{Key: []byte(lastCleanupKey), Value: b, Persist: true})
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.kv.Close()
}
