package models

import "time"

// PeerOp is a compensating write applied to a peer of the person that changed.
type PeerOp string

const (
	OpSetSpouse    PeerOp = "set_spouse"    // peer.spouse = subject
	OpClearSpouse  PeerOp = "clear_spouse"  // peer.spouse = nil while it still names subject
	OpAddChild     PeerOp = "add_child"     // subject appended to peer.children
	OpRemoveChild  PeerOp = "remove_child"  // subject removed from peer.children
	OpAddParent    PeerOp = "add_parent"    // subject appended to peer.parents
	OpRemoveParent PeerOp = "remove_parent" // subject removed from peer.parents
)

// PeerWrite is one step of a propagation task.
type PeerWrite struct {
	Op        PeerOp `json:"op"`
	PeerID    string `json:"peer_id"`
	SubjectID string `json:"subject_id"`
}

type TaskStatus string

const (
	// TaskRecorded is saved before the primary write commits. Workers leave it
	// alone until it is flipped to pending or outlives the recorded grace period.
	TaskRecorded TaskStatus = "recorded"
	TaskPending  TaskStatus = "pending"
	TaskFailed   TaskStatus = "failed"
	// TaskRejected holds writes no retry can apply, such as a third parent.
	// It is kept for inspection and never re-queued.
	TaskRejected TaskStatus = "rejected"
)

// PropagationTask is the durable record of peer writes owed after a primary write.
// It is persisted before the primary write and removed once every write has landed.
type PropagationTask struct {
	ID        string      `gorm:"primaryKey;type:text" json:"id"`
	PersonID  string      `gorm:"not null;index" json:"person_id"`
	Writes    []PeerWrite `gorm:"serializer:json;not null" json:"writes"`
	Status    TaskStatus  `gorm:"type:text;not null;index" json:"status"`
	Attempts  int         `gorm:"not null" json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `gorm:"autoCreateTime:false;not null" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime:false;not null" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (PropagationTask) TableName() string {
	return "propagation_tasks"
}
