package cleansing

import (
	"context"
	"reflect"
	"testing"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

func TestCleanseConvertsAndReports(t *testing.T) {
	raw, err := dataset.New("sales", []string{"Order Date", "Amount ($)", "discount", "region"}, []dataset.Record{
		{"Order Date": "2024-01-03", "Amount ($)": "$1,200.50", "discount": "10%", "region": "EU"},
		{"Order Date": "01/20/2024", "Amount ($)": "(300)", "discount": "5%", "region": "US"},
		{"Order Date": "Feb 11, 2024", "Amount ($)": "", "discount": "n/a", "region": "EU"},
	})
	if err != nil {
		t.Fatal(err)
	}

	batch, err := NewService(nil).Cleanse(context.Background(), []*dataset.Dataset{raw})
	if err != nil {
		t.Fatalf("Cleanse: %v", err)
	}
	if len(batch.Failures) != 0 || len(batch.Cleansed) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
	c := batch.Cleansed[0]
	if want := []string{"order_date", "amount", "discount", "region"}; !reflect.DeepEqual(c.Dataset.Columns(), want) {
		t.Fatalf("columns = %v, want %v", c.Dataset.Columns(), want)
	}

	if got := c.Dataset.Column("order_date"); !reflect.DeepEqual(got, []any{"2024-01-03", "2024-01-20", "2024-02-11"}) {
		t.Fatalf("dates = %v", got)
	}
	if got := c.Dataset.Column("amount"); !reflect.DeepEqual(got, []any{1200.5, -300.0, nil}) {
		t.Fatalf("amounts = %v", got)
	}

	kinds := map[string]string{}
	for _, r := range c.Report {
		kinds[r.NewName] = r.ConversionKind
	}
	want := map[string]string{"order_date": KindDatetime, "amount": KindCurrency, "region": ""}
	for k, v := range want {
		if kinds[k] != v {
			t.Fatalf("kind of %s = %q, want %q", k, kinds[k], v)
		}
	}
	// 2 of 3 discount values parse, below the conversion threshold.
	if kinds["discount"] != "" || len(c.Report[2].Errors) != 1 {
		t.Fatalf("discount report = %+v", c.Report[2])
	}
	if got := c.UnchangedColumns(); !reflect.DeepEqual(got, []string{"discount", "region"}) {
		t.Fatalf("unchanged = %v", got)
	}
}

func TestCleanseSurfacesPerDatasetFailures(t *testing.T) {
	ok, _ := dataset.FromRecords("ok", []dataset.Record{{"a": 1.0}})
	empty, _ := dataset.New("empty", nil, nil)

	batch, err := NewService(nil).Cleanse(context.Background(), []*dataset.Dataset{ok, empty})
	if err != nil {
		t.Fatalf("Cleanse: %v", err)
	}
	if len(batch.Cleansed) != 1 || batch.Cleansed[0].Name() != "ok" {
		t.Fatalf("cleansed = %+v", batch.Cleansed)
	}
	if len(batch.Failures) != 1 || batch.Failures[0].Dataset != "empty" {
		t.Fatalf("failures = %+v", batch.Failures)
	}
}

func TestSnakeNamesDeduplicates(t *testing.T) {
	got := snakeNames([]string{"Total Sales", "total_sales", "customerID", "  ", "%"})
	want := []string{"total_sales", "total_sales_2", "customer_id", "column_4", "column_5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snakeNames = %v, want %v", got, want)
	}
}

func TestParseNumberPercent(t *testing.T) {
	v, ok := parseNumber("12.5%")
	if !ok || v.(float64) != 0.125 {
		t.Fatalf("parseNumber = %v %t", v, ok)
	}
	if _, ok := parseNumber("NaN"); ok {
		t.Fatal("NaN must not parse")
	}
}

func TestSnakeNamesSkipsTakenSuffix(t *testing.T) {
	cases := []struct {
		in, want []string
	}{
		{[]string{"amount", "amount_2", "Amount"}, []string{"amount", "amount_2", "amount_3"}},
		{[]string{"amount", "Amount", "amount_2"}, []string{"amount", "amount_2", "amount_2_2"}},
	}
	for _, c := range cases {
		if got := snakeNames(c.in); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("snakeNames(%v) = %v, want %v", c.in, got, c.want)
		}
	}

	raw, _ := dataset.New("sales", []string{"amount", "amount_2", "Amount"}, []dataset.Record{
		{"amount": 1.0, "amount_2": 2.0, "Amount": 3.0},
	})
	batch, err := NewService(nil).Cleanse(context.Background(), []*dataset.Dataset{raw})
	if err != nil {
		t.Fatalf("Cleanse: %v", err)
	}
	if len(batch.Failures) != 0 || len(batch.Cleansed) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
	if got := batch.Cleansed[0].Dataset.Column("amount_3"); !reflect.DeepEqual(got, []any{3.0}) {
		t.Fatalf("amount_3 = %v", got)
	}
}

func TestParseDateKeepsTimeOfDay(t *testing.T) {
	cases := map[string]string{
		"2024-01-03":                "2024-01-03",
		"Jan 2, 2024":               "2024-01-02",
		"2024-01-03 14:30:00":       "2024-01-03 14:30:00",
		"2024-01-03T14:30:00":       "2024-01-03 14:30:00",
		"2024-01-03T14:30:00+07:00": "2024-01-03T14:30:00+07:00",
		"2024-01-03T14:30:00Z":      "2024-01-03T14:30:00Z",
	}
	for in, want := range cases {
		got, ok := parseDate(in)
		if !ok || got != want {
			t.Fatalf("parseDate(%q) = %v %t, want %q", in, got, ok, want)
		}
	}
}
