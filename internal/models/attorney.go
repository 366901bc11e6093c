package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind тип движения сотрудника: пришёл или ушёл.
type Kind string

const (
	KindJoiner Kind = "joiner"
	KindLeaver Kind = "leaver"
)

// Attorney одна нормализованная строка исходной таблицы (один человек).
type Attorney struct {
	ID        int    `json:"id"`
	SourceRow int    `json:"source_row"`
	Person    string `json:"person"`
	Title     string `json:"title,omitempty"`
	Office    string `json:"office,omitempty"`
	Practice  string `json:"practice,omitempty"`

	StartDate time.Time `json:"start_date,omitzero"`
	LeaveDate time.Time `json:"leave_date,omitzero"`
	StartYear int       `json:"start_year,omitempty"`

	EstimatedBook decimal.Decimal `json:"estimated_book"`
	TTM           decimal.Decimal `json:"ttm"`
	Annualized    decimal.Decimal `json:"annualized"`
	Variance      decimal.Decimal `json:"variance_to_est"`

	TenureMonths int `json:"tenure_months"`
}

// Kind возвращает leaver, если у строки заполнена дата ухода.
func (a Attorney) Kind() Kind {
	if a.LeaveDate.IsZero() {
		return KindJoiner
	}
	return KindLeaver
}

// StartQuarter квартал прихода, например "2023Q1". Пустая строка, если даты нет.
func (a Attorney) StartQuarter() string {
	return QuarterOf(a.StartDate)
}

// PeriodAmount значение месячной колонки для одного человека (long form).
type PeriodAmount struct {
	AttorneyID int             `json:"attorney_id"`
	Person     string          `json:"person"`
	Period     time.Time       `json:"period"`
	Amount     decimal.Decimal `json:"amount"`
}

// Dataset результат загрузки и нормализации таблицы.
type Dataset struct {
	Source          string         `json:"source"`
	LoadedAt        time.Time      `json:"loaded_at"`
	HeaderRow       int            `json:"header_row"`
	Columns         []string       `json:"columns"`
	MonthColumns    []time.Time    `json:"month_columns,omitempty"`
	HasPersonColumn bool           `json:"has_person_column"`
	Attorneys       []Attorney     `json:"attorneys"`
	Periods         []PeriodAmount `json:"periods"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// QuarterOf форматирует квартал даты.
func QuarterOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}

// MonthOf первое число месяца даты.
func MonthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
