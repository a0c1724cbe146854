package directory

import "time"

// Cache persists the directory snapshot and fetch timestamp between runs.
type Cache interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	GetTime(key string) (time.Time, bool, error)
	PutTime(key string, t time.Time) error
}
