package models

// SchedulerLock is the distributed lock document guarding scheduled jobs so
// exactly one instance runs a given job per window.
type SchedulerLock struct {
	ID         string `json:"_id" bson:"_id"`
	InstanceID string `json:"instanceId" bson:"instanceId"`
	AcquiredAt int64  `json:"acquiredAt" bson:"acquiredAt"`
	ExpiresAt  int64  `json:"expiresAt" bson:"expiresAt"`
}
