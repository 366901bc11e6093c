package models

import "time"

// ReportRun запись о сформированном отчёте.
type ReportRun struct {
	ID            uint      `gorm:"column:id;primaryKey" json:"id"`
	GeneratedAt   time.Time `gorm:"column:generated_at;index;not null" json:"generated_at"`
	Source        string    `gorm:"column:source;not null" json:"source"`
	Path          string    `gorm:"column:path" json:"path"`
	Filter        string    `gorm:"column:filter" json:"filter"`
	Rows          int       `gorm:"column:rows" json:"rows"`
	Joiners       int       `gorm:"column:joiners" json:"joiners"`
	Leavers       int       `gorm:"column:leavers" json:"leavers"`
	EstimatedBook string    `gorm:"column:estimated_book" json:"estimated_book"`
	Annualized    string    `gorm:"column:annualized" json:"annualized"`
}

func (ReportRun) TableName() string {
	return "report_runs"
}
