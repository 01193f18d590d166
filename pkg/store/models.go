package store

import (
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/record"
)

// recordRow is the database representation of a record. The structured
// payload columns are stored as JSON so both sqlite and postgres work with
// the same model.
type recordRow struct {
	ID        string            `gorm:"primaryKey"`
	Kind      string            `gorm:"index;not null"`
	Name      string            `gorm:"index;not null"`
	Group     string            `gorm:"column:grp"`
	Parent    string            `gorm:"index"`
	State     string            `gorm:"index;not null"`
	Result    string            ``
	Artifacts map[string]string `gorm:"serializer:json"`
	Data      record.Data       `gorm:"serializer:json"`
	Path      []string          `gorm:"serializer:json"`
	CreatedAt time.Time         `gorm:"index"`
	UpdatedAt time.Time         ``
}

// TableName keeps the table name stable regardless of struct naming.
func (recordRow) TableName() string { return "records" }

func rowFromRecord(rec *record.Record) *recordRow {
	return &recordRow{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Name:      rec.Name,
		Group:     rec.Group,
		Parent:    rec.Parent,
		State:     rec.State,
		Result:    rec.Result,
		Artifacts: rec.Artifacts,
		Data:      rec.Data,
		Path:      rec.Path,
		CreatedAt: rec.Created,
		UpdatedAt: rec.Updated,
	}
}

func (r *recordRow) toRecord() *record.Record {
	return &record.Record{
		ID:        r.ID,
		Kind:      r.Kind,
		Name:      r.Name,
		Group:     r.Group,
		Parent:    r.Parent,
		State:     r.State,
		Result:    r.Result,
		Artifacts: r.Artifacts,
		Data:      r.Data,
		Path:      r.Path,
		Created:   r.CreatedAt,
		Updated:   r.UpdatedAt,
	}
}
