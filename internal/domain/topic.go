package domain

// Topic is a versioned messaging topic entity.
type Topic struct {
	EntityHeader
	PartitionCount    int      `json:"partitionCount,omitempty"`
	ReplicationFactor int      `json:"replicationFactor,omitempty"`
	RetentionSize     int64    `json:"retentionSize,omitempty"`
	SchemaText        string   `json:"schemaText,omitempty"`
	CleanupPolicies   []string `json:"cleanupPolicies,omitempty"`
	ServiceFQN        string   `json:"serviceFQN,omitempty"`
}

func (t *Topic) EntityType() string    { return EntityTypeTopic }
func (t *Topic) Header() *EntityHeader { return &t.EntityHeader }

// Clone returns a deep copy of the topic.
func (t *Topic) Clone() Entity {
	clone := *t
	clone.EntityHeader = cloneHeader(t.EntityHeader)
	if t.CleanupPolicies != nil {
		clone.CleanupPolicies = make([]string, len(t.CleanupPolicies))
		copy(clone.CleanupPolicies, t.CleanupPolicies)
	}
	return &clone
}
