package services

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

const dayLayout = "2006-01-02"

// Filter критерии отбора строк. Пустые значения означают "все".
type Filter struct {
	From   time.Time   `json:"from,omitzero"`
	To     time.Time   `json:"to,omitzero"`
	Years  []int       `json:"years,omitempty"`
	People []string    `json:"people,omitempty"`
	Kind   models.Kind `json:"kind,omitempty"`
}

// String короткое описание фильтра для логов и истории отчётов.
func (f Filter) String() string {
	var parts []string
	if !f.From.IsZero() {
		parts = append(parts, "from="+f.From.Format(dayLayout))
	}
	if !f.To.IsZero() {
		parts = append(parts, "to="+f.To.Format(dayLayout))
	}
	if len(f.Years) > 0 {
		years := make([]string, len(f.Years))
		for i, y := range f.Years {
			years[i] = strconv.Itoa(y)
		}
		parts = append(parts, "years="+strings.Join(years, ","))
	}
	if len(f.People) > 0 {
		parts = append(parts, "people="+strings.Join(f.People, ","))
	}
	if f.Kind != "" {
		parts = append(parts, "kind="+string(f.Kind))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

// Match проверяет одну строку.
func (f Filter) Match(a models.Attorney) bool {
	if !f.From.IsZero() && (a.StartDate.IsZero() || a.StartDate.Before(startOfDay(f.From))) {
		return false
	}
	if !f.To.IsZero() && (a.StartDate.IsZero() || !a.StartDate.Before(startOfDay(f.To).AddDate(0, 0, 1))) {
		return false
	}
	if len(f.Years) > 0 && !slices.Contains(f.Years, a.StartYear) {
		return false
	}
	if f.Kind != "" && a.Kind() != f.Kind {
		return false
	}
	if len(f.People) > 0 {
		name := strings.TrimSpace(a.Person)
		found := false
		for _, p := range f.People {
			if strings.EqualFold(strings.TrimSpace(p), name) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply возвращает новый набор только с подходящими строками и их месячными значениями.
func (f Filter) Apply(ds *models.Dataset) *models.Dataset {
	if ds == nil {
		return nil
	}

	out := *ds
	out.Attorneys = nil
	out.Periods = nil

	// без колонки с ФИО фильтр по людям не применяется
	if !ds.HasPersonColumn {
		f.People = nil
	}

	kept := make(map[int]bool)
	for _, a := range ds.Attorneys {
		if f.Match(a) {
			out.Attorneys = append(out.Attorneys, a)
			kept[a.ID] = true
		}
	}
	for _, p := range ds.Periods {
		if kept[p.AttorneyID] {
			out.Periods = append(out.Periods, p)
		}
	}
	return &out
}

// Options собирает допустимые значения фильтров.
func Options(ds *models.Dataset) models.FilterOptions {
	var opts models.FilterOptions
	if ds == nil {
		return opts
	}
	opts.HasPeople = ds.HasPersonColumn

	years := make(map[int]bool)
	people := make(map[string]bool)
	for _, a := range ds.Attorneys {
		if a.StartYear != 0 {
			years[a.StartYear] = true
		}
		if ds.HasPersonColumn && a.Person != "" {
			people[a.Person] = true
		}
		if a.StartDate.IsZero() {
			continue
		}
		if opts.MinStart.IsZero() || a.StartDate.Before(opts.MinStart) {
			opts.MinStart = a.StartDate
		}
		if a.StartDate.After(opts.MaxStart) {
			opts.MaxStart = a.StartDate
		}
	}

	for y := range years {
		opts.Years = append(opts.Years, y)
	}
	sort.Ints(opts.Years)

	for p := range people {
		opts.People = append(opts.People, p)
	}
	sort.Strings(opts.People)

	return opts
}

// ParseDay разбирает дату в формате YYYY-MM-DD, пустая строка даёт нулевое время.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
