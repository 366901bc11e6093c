package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

func personNames(ds *models.Dataset) []string {
	var out []string
	for _, a := range ds.Attorneys {
		out = append(out, a.Person)
	}
	return out
}

func TestFilter_Apply(t *testing.T) {
	ds := sampleDataset(t)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty filter keeps everything", Filter{}, []string{"Alice Smith", "Bob Jones", "Carol White"}},
		{"from", Filter{From: day("2023-01-01")}, []string{"Alice Smith", "Bob Jones"}},
		{"to is inclusive", Filter{To: day("2023-01-15")}, []string{"Alice Smith", "Carol White"}},
		{"years", Filter{Years: []int{2022}}, []string{"Carol White"}},
		{"people ignore case", Filter{People: []string{" alice smith "}}, []string{"Alice Smith"}},
		{"kind", Filter{Kind: models.KindLeaver}, []string{"Bob Jones"}},
		{"combined", Filter{From: day("2023-01-01"), Kind: models.KindJoiner}, []string{"Alice Smith"}},
		{"nothing matches", Filter{Years: []int{1999}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, personNames(tt.filter.Apply(ds)))
		})
	}
}

func TestFilter_ApplyKeepsPeriodsOfKeptRows(t *testing.T) {
	ds := sampleDataset(t)

	out := Filter{People: []string{"Alice Smith"}}.Apply(ds)
	require.Len(t, out.Periods, 2)
	for _, p := range out.Periods {
		assert.Equal(t, "Alice Smith", p.Person)
	}

	// исходный набор не меняется
	assert.Len(t, ds.Attorneys, 3)
	assert.Len(t, ds.Periods, 3)
}

func TestFilter_PeopleIgnoredWithoutPersonColumn(t *testing.T) {
	ds := &models.Dataset{
		HasPersonColumn: false,
		Attorneys:       []models.Attorney{{ID: 1}, {ID: 2}},
	}
	out := Filter{People: []string{"Someone"}}.Apply(ds)
	assert.Len(t, out.Attorneys, 2)
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "all", Filter{}.String())
	f := Filter{From: day("2023-01-01"), Years: []int{2022, 2023}, People: []string{"A", "B"}, Kind: models.KindJoiner}
	assert.Equal(t, "from=2023-01-01 years=2022,2023 people=A,B kind=joiner", f.String())
}

func TestOptions(t *testing.T) {
	opts := Options(sampleDataset(t))

	assert.Equal(t, []int{2022, 2023}, opts.Years)
	assert.Equal(t, []string{"Alice Smith", "Bob Jones", "Carol White"}, opts.People)
	assert.Equal(t, day("2022-07-01"), opts.MinStart)
	assert.Equal(t, day("2023-02-10"), opts.MaxStart)
	assert.True(t, opts.HasPeople)
}

func TestParseDay(t *testing.T) {
	got, err := ParseDay("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseDay("2023-06-30")
	require.NoError(t, err)
	assert.Equal(t, day("2023-06-30"), got)

	_, err = ParseDay("30.06.2023")
	assert.Error(t, err)
}
