package repository

import (
	"time"

	"gorm.io/datatypes"
)

// CheckpointModel is one row per instance. Phase, next node, approval and
// outcome are duplicated out of the snapshot for filtering.
type CheckpointModel struct {
	InstanceID string         `gorm:"type:varchar(200);primaryKey"`
	Phase      string         `gorm:"type:varchar(2);index;not null"`
	NextNode   string         `gorm:"type:varchar(40)"`
	Approved   bool           `gorm:"not null;default:false"`
	Outcome    string         `gorm:"type:varchar(20)"`
	Snapshot   datatypes.JSON `gorm:"not null"`
	Version    int            `gorm:"not null;default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CheckpointModel) TableName() string {
	return "checkpoints"
}

// MemoryRecordModel is a namespaced value with an optional embedding.
type MemoryRecordModel struct {
	Namespace     string         `gorm:"type:varchar(255);primaryKey"`
	RecordKey     string         `gorm:"type:varchar(255);primaryKey"`
	Value         datatypes.JSON `gorm:"not null"`
	EmbeddingText string         `gorm:"type:text"`
	Embedding     datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (MemoryRecordModel) TableName() string {
	return "memory_records"
}
