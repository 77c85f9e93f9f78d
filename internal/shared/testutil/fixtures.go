package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mmmcli/internal/config"
)

// WeeklyCSV returns periods weeks of synthetic spend and sales with the
// columns date, tv, radio, price and sales.
func WeeklyCSV(periods int) string {
	var b strings.Builder
	b.WriteString("date,tv,radio,price,sales\n")
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < periods; i++ {
		tv := 50 + float64((i*7)%11)*5
		radio := 20 + float64((i*3)%5)*4
		price := 1 + float64(i%3)/10
		sales := 100 + 2*tv + 3*radio - 10*price
		fmt.Fprintf(&b, "%s,%.0f,%.0f,%.1f,%.1f\n", start.AddDate(0, 0, 7*i).Format("2006-01-02"), tv, radio, price, sales)
	}
	return b.String()
}

// WriteWeeklyCSV writes WeeklyCSV into a temporary directory and returns
// the file path.
func WriteWeeklyCSV(t *testing.T, periods int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weekly.csv")
	if err := os.WriteFile(path, []byte(WeeklyCSV(periods)), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

// QuickRunConfig returns a run configuration over a 30 week WeeklyCSV
// fixture with sample counts small enough for unit tests. The last four
// weeks are held out and reports go to a temporary directory.
func QuickRunConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Source = WriteWeeklyCSV(t, 30)
	cfg.Data.DateColumn = "date"
	cfg.Data.Media = []string{"tv", "radio"}
	cfg.Data.Target = "sales"
	cfg.Data.Extra = []string{"price"}
	cfg.Data.TestPeriods = 4
	cfg.Model.NumberWarmup = 40
	cfg.Model.NumberSamples = 40
	cfg.Model.NumberChains = 1
	cfg.Model.DegreesSeasonality = 1
	cfg.Model.MAPIterations = 50
	cfg.Model.Seed = 7
	cfg.Optimization.Enabled = true
	cfg.Optimization.Budget = 1000
	cfg.Optimization.Periods = 2
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Formats = []string{"csv", "json"}
	return cfg
}
