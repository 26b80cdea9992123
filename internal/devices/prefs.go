package devices

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var prefsBucket = []byte("device_prefs")

const (
	keyAudioDevice = "selectedAudioDeviceId"
	keyVideoDevice = "selectedVideoDeviceId"
)

// PrefStore persists device selections across runs.
type PrefStore struct {
	db *bolt.DB
}

func OpenPrefStore(path string) (*PrefStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open pref store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(prefsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pref store: %w", err)
	}
	return &PrefStore{db: db}, nil
}

func (s *PrefStore) Close() error { return s.db.Close() }

func (s *PrefStore) AudioDeviceID() string { return s.get(keyAudioDevice) }
func (s *PrefStore) VideoDeviceID() string { return s.get(keyVideoDevice) }

func (s *PrefStore) SetAudioDeviceID(id string) { s.set(keyAudioDevice, id) }
func (s *PrefStore) SetVideoDeviceID(id string) { s.set(keyVideoDevice, id) }

func (s *PrefStore) get(key string) string {
	var out string
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(prefsBucket).Get([]byte(key))
		out = string(v)
		return nil
	})
	// Older builds stored the id JSON-encoded; strip surviving quotes.
	if len(out) >= 2 && out[0] == '"' && out[len(out)-1] == '"' {
		out = out[1 : len(out)-1]
	}
	return out
}

func (s *PrefStore) set(key, id string) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(prefsBucket)
		if id == "" {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), []byte(id))
	})
	if err != nil {
		log.Error().Err(err).Str("module", "devices").Str("key", key).Msg("pref write failed")
	}
}
