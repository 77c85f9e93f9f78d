package dataset

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const weeklyCSV = `date,tv,radio,price_index,sales,region
2024-01-01,10,5,1.0,100,north
2024-01-08,20,10,1.1,200,north
2024-01-15,30,15,0.9,300,north
2024-01-22,"1,000",20,1.0,400,north
`

func TestReadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(weeklyCSV), LoadOptions{DateColumn: "date"})
	require.NoError(t, err)

	assert.Equal(t, 4, table.Len())
	assert.Equal(t, []string{"date", "tv", "radio", "price_index", "sales", "region"}, table.Columns())
	require.Len(t, table.Dates(), 4)
	assert.Equal(t, 2024, table.Dates()[0].Year())

	tv, err := table.Column("tv")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 1000}, tv)

	_, err = table.Column("region")
	assert.ErrorIs(t, err, ErrNonNumeric)

	_, err = table.Column("budget")
	assert.ErrorIs(t, err, ErrColumnNotFound)
	assert.NoError(t, table.ValidateChronology())
}

func TestFromRecords_Errors(t *testing.T) {
	tests := []struct {
		name    string
		records [][]string
		opts    LoadOptions
		want    error
	}{
		{name: "empty", records: nil, want: ErrEmptyTable},
		{name: "header only", records: [][]string{{"tv", "sales"}}, want: ErrEmptyTable},
		{name: "blank rows only", records: [][]string{{"tv"}, {" "}, {""}}, want: ErrEmptyTable},
		{name: "duplicate header", records: [][]string{{"tv", "tv"}, {"1", "2"}}, want: ErrDuplicateColumn},
		{
			name:    "bad date",
			records: [][]string{{"date", "tv"}, {"01/02/2024", "1"}},
			opts:    LoadOptions{DateColumn: "date"},
			want:    ErrInvalidDate,
		},
		{
			name:    "missing date column",
			records: [][]string{{"week", "tv"}, {"2024-01-01", "1"}},
			opts:    LoadOptions{DateColumn: "date"},
			want:    ErrColumnNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromRecords(tt.records, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTable_MissingValue(t *testing.T) {
	table, err := FromRecords([][]string{{"tv", "sales"}, {"1", "2"}, {"", "3"}, {"4"}}, LoadOptions{})
	require.NoError(t, err)
	_, err = table.Column("tv")
	assert.ErrorIs(t, err, ErrMissingValue)
	_, err = table.Column("sales")
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestTable_CustomDateLayout(t *testing.T) {
	table, err := FromRecords([][]string{{"week", "tv"}, {"02/01/2024", "1"}, {"09/01/2024", "2"}},
		LoadOptions{DateColumn: "week", DateLayout: "02/01/2006"})
	require.NoError(t, err)
	assert.Equal(t, 9, table.Dates()[1].Day())
}

func TestValidateChronology(t *testing.T) {
	table, err := FromRecords([][]string{{"date", "tv"}, {"2024-01-08", "1"}, {"2024-01-01", "2"}},
		LoadOptions{DateColumn: "date"})
	require.NoError(t, err)
	assert.ErrorIs(t, table.ValidateChronology(), ErrUnsortedDates)

	dup, err := FromRecords([][]string{{"date", "tv"}, {"2024-01-01", "1"}, {"2024-01-01", "2"}},
		LoadOptions{DateColumn: "date"})
	require.NoError(t, err)
	assert.ErrorIs(t, dup.ValidateChronology(), ErrUnsortedDates)

	gap, err := FromRecords([][]string{{"date", "tv"}, {"2024-01-01", "1"}, {"2024-01-08", "2"}, {"2024-01-22", "3"}},
		LoadOptions{DateColumn: "date"})
	require.NoError(t, err)
	assert.ErrorIs(t, gap.ValidateChronology(), ErrIrregularPeriods)
}

func TestSelectAndSplit(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(weeklyCSV), LoadOptions{DateColumn: "date"})
	require.NoError(t, err)

	obs, err := table.Select(Selection{
		Media:  []string{"tv", "radio"},
		Target: "sales",
		Extra:  []string{"price_index"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, obs.Len())
	assert.Equal(t, []float64{20, 10}, obs.Media[1])
	assert.Equal(t, []float64{1.1}, obs.Extra[1])
	assert.Equal(t, []float64{1060, 50}, obs.ChannelCosts())

	train, test, err := obs.Split(1)
	require.NoError(t, err)
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 1, test.Len())
	assert.Equal(t, []float64{60, 30}, train.ChannelCosts())
	assert.Equal(t, []float64{400}, test.Target)
	assert.Len(t, test.Dates, 1)
	assert.Len(t, train.Extra, 3)

	all, none, err := obs.Split(0)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Equal(t, 4, all.Len())

	_, _, err = obs.Split(4)
	assert.ErrorIs(t, err, ErrInvalidSplit)
	_, _, err = obs.Split(-1)
	assert.ErrorIs(t, err, ErrInvalidSplit)
}

func TestSelect_Errors(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(weeklyCSV), LoadOptions{})
	require.NoError(t, err)

	_, err = table.Select(Selection{Target: "sales"})
	assert.ErrorIs(t, err, ErrColumnNotFound)
	_, err = table.Select(Selection{Media: []string{"tv"}})
	assert.ErrorIs(t, err, ErrColumnNotFound)
	_, err = table.Select(Selection{Media: []string{"tv"}, Target: "sales", Extra: []string{"region"}})
	assert.ErrorIs(t, err, ErrNonNumeric)
	_, err = table.Select(Selection{Media: []string{"tv", "radio"}, Target: "sales", Costs: []string{"tv"}})
	assert.Error(t, err)
}

func TestSelect_CostColumns(t *testing.T) {
	table, err := FromRecords([][]string{
		{"tv_impressions", "tv_spend", "sales"},
		{"1000", "10", "5"},
		{"3000", "30", "7"},
	}, LoadOptions{})
	require.NoError(t, err)
	obs, err := table.Select(Selection{Media: []string{"tv_impressions"}, Target: "sales", Costs: []string{"tv_spend"}})
	require.NoError(t, err)
	assert.Equal(t, []float64{40}, obs.ChannelCosts())
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"date", "tv", "sales"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"2024-01-01", 10, 100}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"2024-01-08", 20, 200}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := ReadXLSX(buf, LoadOptions{DateColumn: "date"})
	require.NoError(t, err)
	sales, err := table.Column("sales")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200}, sales)

	_, err = ReadXLSX(strings.NewReader("not a workbook"), LoadOptions{})
	assert.Error(t, err)
}

type fakeObjects struct {
	objects map[string]string
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestLoader_S3(t *testing.T) {
	loader := NewLoader(nil)
	loader.Register("s3", NewS3SourceWithClient(&fakeObjects{objects: map[string]string{
		"marketing/weekly/data.csv": weeklyCSV,
	}}))

	table, err := loader.Load(context.Background(), "s3://marketing/weekly/data.csv", LoadOptions{DateColumn: "date"})
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())

	_, err = loader.Load(context.Background(), "s3://marketing/missing.csv", LoadOptions{})
	assert.Error(t, err)

	_, err = loader.Load(context.Background(), "s3://marketing", LoadOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestLoader_Sheets(t *testing.T) {
	var gotID, gotRange string
	src := NewSheetsSourceWithFetcher(func(_ context.Context, id, readRange string) ([][]interface{}, error) {
		gotID, gotRange = id, readRange
		return [][]interface{}{
			{"tv", "sales"},
			{"10", 100.0},
			{"20", 200.0},
		}, nil
	})
	loader := NewLoader(nil)
	loader.Register("sheets", src)

	table, err := loader.Load(context.Background(), "sheets://abc123/Weekly!A1:B3", LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotID)
	assert.Equal(t, "Weekly!A1:B3", gotRange)
	sales, err := table.Column("sales")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200}, sales)
}

func TestLoader_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weekly.csv")
	require.NoError(t, os.WriteFile(path, []byte(weeklyCSV), 0o600))

	loader := NewLoader(nil)
	table, err := loader.Load(context.Background(), path, LoadOptions{DateColumn: "date"})
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())

	unsorted := filepath.Join(dir, "unsorted.csv")
	require.NoError(t, os.WriteFile(unsorted, []byte("date,tv\n2024-01-08,1\n2024-01-01,2\n"), 0o600))
	_, err = loader.Load(context.Background(), unsorted, LoadOptions{DateColumn: "date"})
	assert.ErrorIs(t, err, ErrUnsortedDates)

	_, err = loader.Load(context.Background(), "ftp://host/file.csv", LoadOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = loader.Load(context.Background(), filepath.Join(dir, "weekly.parquet"), LoadOptions{})
	assert.Error(t, err)
}
