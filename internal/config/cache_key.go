package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CredentialKey returns the cache key holding the upstream evaluation API
// token for a portal session (keyed by JWT JTI).
func (r *CacheKeyStruct) CredentialKey(jti string) string {
	return fmt.Sprintf("credential:%s", jti)
}

// SessionSnapshotKey returns the cache key for a test session snapshot
// (answers + current index).
func (r *CacheKeyStruct) SessionSnapshotKey(testID int) string {
	return fmt.Sprintf("test:%d:snapshot", testID)
}

// SubmissionStateKey returns the cache key for a test's submission state
// ("submitting" while in flight, then the serialized outcome).
func (r *CacheKeyStruct) SubmissionStateKey(testID int) string {
	return fmt.Sprintf("test:%d:submission_state", testID)
}

// SubmissionChannel returns the Redis Pub/Sub channel name streaming
// progress messages and the final outcome for a test submission.
func (r *CacheKeyStruct) SubmissionChannel(testID int) string {
	return fmt.Sprintf("test:%d:submission:events", testID)
}

// SeriesCatalogKey returns the cache key for the demo series catalog.
func (r *CacheKeyStruct) SeriesCatalogKey() string {
	return "series:catalog"
}

var CacheKey = NewCacheKeyStruct()
