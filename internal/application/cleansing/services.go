package cleansing

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

// Conversion kinds reported per column.
const (
	KindNumeric    = "numeric"
	KindCurrency   = "currency"
	KindPercentage = "percentage"
	KindDatetime   = "datetime"
	KindRenamed    = "renamed"
)

// minParseRatio is the share of non-empty values that must convert before a
// column is converted. Values that still fail become null with a warning.
const minParseRatio = 0.8

var (
	nonIdent      = regexp.MustCompile(`[^a-z0-9]+`)
	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	currencyRe    = regexp.MustCompile(`[$€£¥₹]`)
)

// dateLayouts maps accepted input layouts to the normalized output. Values
// carrying a time of day keep it.
var dateLayouts = []struct{ in, out string }{
	{"2006-01-02", dateOnly},
	{"2006/01/02", dateOnly},
	{"2006-01-02 15:04:05", dateTime},
	{"2006-01-02T15:04:05", dateTime},
	{time.RFC3339, time.RFC3339},
	{"01/02/2006", dateOnly},
	{"02-01-2006", dateOnly},
	{"Jan 2, 2006", dateOnly},
	{"2 Jan 2006", dateOnly},
	{"January 2, 2006", dateOnly},
}

const (
	dateOnly = "2006-01-02"
	dateTime = "2006-01-02 15:04:05"
)

// Service is the default cleansing collaborator.
type Service struct {
	concurrency int
	log         *zap.Logger
}

func NewService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{concurrency: 4, log: log}
}

// Cleanse processes each dataset independently. A dataset that fails is
// listed in Failures; only cancellation fails the whole batch.
func (s *Service) Cleanse(ctx context.Context, datasets []*dataset.Dataset) (dataset.CleanseBatch, error) {
	cleansed := make([]*dataset.CleansedDataset, len(datasets))
	failures := make([]error, len(datasets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, d := range datasets {
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cleansed[i], failures[i] = cleanseOne(d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dataset.CleanseBatch{}, err
	}

	var batch dataset.CleanseBatch
	for i, c := range cleansed {
		if failures[i] != nil {
			name := "<nil>"
			if datasets[i] != nil {
				name = datasets[i].Name()
			}
			s.log.Warn("cleansing failed", zap.String("dataset", name), zap.Error(failures[i]))
			batch.Failures = append(batch.Failures, dataset.Failure{Dataset: name, Error: failures[i].Error()})
			continue
		}
		batch.Cleansed = append(batch.Cleansed, c)
	}
	return batch, nil
}

func cleanseOne(d *dataset.Dataset) (*dataset.CleansedDataset, error) {
	if d == nil {
		return nil, fmt.Errorf("dataset is nil")
	}
	cols := d.Columns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("dataset %q has no columns", d.Name())
	}

	names := snakeNames(cols)
	rows := d.ToRecords()
	out := make([]dataset.Record, len(rows))
	for i := range out {
		out[i] = make(dataset.Record, len(cols))
	}

	reports := make([]dataset.ColumnReport, len(cols))
	for j, col := range cols {
		values := d.Column(col)
		converted, rep := convertColumn(values)
		rep.NewName = names[j]
		if names[j] != col {
			rep.OriginalName = col
			if rep.ConversionKind == "" {
				rep.ConversionKind = KindRenamed
			}
		}
		for i := range out {
			out[i][names[j]] = converted[i]
		}
		reports[j] = rep
	}

	nd, err := dataset.New(d.Name(), names, out)
	if err != nil {
		return nil, err
	}
	return &dataset.CleansedDataset{Dataset: nd, Report: reports}, nil
}

// snakeNames normalizes column names and de-duplicates collisions with the
// first numeric suffix not already taken.
func snakeNames(cols []string) []string {
	out := make([]string, len(cols))
	used := map[string]bool{}
	for i, c := range cols {
		n := camelBoundary.ReplaceAllString(strings.TrimSpace(c), "${1}_${2}")
		n = strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(n), "_"), "_")
		if n == "" {
			n = fmt.Sprintf("column_%d", i+1)
		}
		if used[n] {
			base := n
			for k := 2; used[n]; k++ {
				n = fmt.Sprintf("%s_%d", base, k)
			}
		}
		used[n] = true
		out[i] = n
	}
	return out
}

type parser func(string) (any, bool)

// convertColumn tries datetime then numeric coercion on string columns.
func convertColumn(values []any) ([]any, dataset.ColumnReport) {
	rep := dataset.ColumnReport{Warnings: []string{}, Errors: []string{}}
	rep.OriginalType = dictionary.InferType(values)

	var strs []string
	for _, v := range values {
		s, ok := v.(string)
		if v == nil {
			continue
		}
		if !ok {
			return values, rep
		}
		if strings.TrimSpace(s) != "" {
			strs = append(strs, s)
		}
	}
	if len(strs) == 0 {
		return values, rep
	}

	kind := ""
	var parse parser
	switch {
	case ratio(strs, parseDate) >= minParseRatio:
		kind, parse = KindDatetime, parseDate
	case ratio(strs, parseNumber) >= minParseRatio:
		kind, parse = numericKind(strs), parseNumber
	default:
		if r := ratio(strs, parseNumber); r >= 0.5 {
			rep.Errors = append(rep.Errors, fmt.Sprintf("column mixes numeric and text values (%.0f%% numeric); left unchanged", r*100))
		}
		return values, rep
	}

	out := make([]any, len(values))
	failed := 0
	for i, v := range values {
		s, _ := v.(string)
		if v == nil || strings.TrimSpace(s) == "" {
			continue
		}
		if p, ok := parse(s); ok {
			out[i] = p
		} else {
			failed++
		}
	}
	if failed > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d value(s) could not be converted and were set to null", failed))
	}
	rep.ConversionKind = kind
	rep.NewType = dictionary.InferType(out)
	if kind == KindDatetime {
		rep.NewType = "datetime64[ns]"
	}
	return out, rep
}

func ratio(strs []string, p parser) float64 {
	ok := 0
	for _, s := range strs {
		if _, good := p(s); good {
			ok++
		}
	}
	return float64(ok) / float64(len(strs))
}

func numericKind(strs []string) string {
	for _, s := range strs {
		if currencyRe.MatchString(s) {
			return KindCurrency
		}
		if strings.HasSuffix(strings.TrimSpace(s), "%") {
			return KindPercentage
		}
	}
	return KindNumeric
}

// parseNumber accepts thousands separators, currency symbols, percent
// suffixes and accounting negatives like (1,200).
func parseNumber(s string) (any, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = currencyRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return nil, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	if neg {
		f = -f
	}
	if pct {
		f /= 100
	}
	return f, true
}

// parseDate returns the date as YYYY-MM-DD, or with its time of day when the
// source has one. Zoned timestamps stay RFC 3339.
func parseDate(s string) (any, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.in, s); err == nil {
			return t.Format(l.out), true
		}
	}
	return nil, false
}
