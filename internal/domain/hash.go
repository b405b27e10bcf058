package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashJobID computes the deterministic job_id: a content hash of job_type
// and the canonical encoding of parameters (invariant 1). encoding/json
// marshals map[string]any keys in sorted order, which is exactly the
// canonicalization spec.md's generate_job_id calls for.
func HashJobID(jobType string, params Params) (string, error) {
	canon, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("domain: canonicalize parameters: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(jobType))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashTaskID computes the deterministic, retry-stable task_id (invariant
// 2): a hash of job_id, stage, task_type and task_index.
func HashTaskID(jobID string, stage int, taskType string, taskIndex int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%d", jobID, stage, taskType, taskIndex)
	return hex.EncodeToString(h.Sum(nil))
}
