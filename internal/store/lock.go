package store

import "hash/fnv"

// advisoryLockKeys derives the two int32 keys pg_advisory_xact_lock takes
// from (job_id, stage). job_id is an arbitrary string (a content hash), so
// it is folded through FNV-1a rather than parsed as a number.
func advisoryLockKeys(jobID string, stage int) (int32, int32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	key1 := int32(h.Sum32())
	key2 := int32(stage)
	return key1, key2
}
