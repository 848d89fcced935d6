package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// IncomeBucket is one calendar unit of summed paid-order totals. Buckets
// without any paid orders are absent from the summary, not zero-filled.
type IncomeBucket struct {
	Key   string          `json:"key"`
	Total decimal.Decimal `json:"total"`
}

type IncomeSummary struct {
	Daily   []IncomeBucket `json:"daily"`
	Weekly  []IncomeBucket `json:"weekly"`
	Monthly []IncomeBucket `json:"monthly"`
	Yearly  []IncomeBucket `json:"yearly"`
}

// IncomeSummary aggregates paid orders into calendar buckets over trailing
// windows: 7 days, 4 ISO weeks, 12 months, 5 calendar years.
func (s *Service) IncomeSummary(ctx context.Context, now time.Time) (IncomeSummary, error) {
	now = now.UTC()
	dailyFrom := now.AddDate(0, 0, -7)
	weeklyFrom := now.AddDate(0, 0, -28)
	monthlyFrom := time.Date(now.Year(), now.Month()-11, 1, 0, 0, 0, 0, time.UTC)
	yearlyFrom := time.Date(now.Year()-4, time.January, 1, 0, 0, 0, 0, time.UTC)

	orders, err := s.repo.FindPaidSince(ctx, yearlyFrom)
	if err != nil {
		return IncomeSummary{}, err
	}

	daily := map[string]decimal.Decimal{}
	weekly := map[string]decimal.Decimal{}
	monthly := map[string]decimal.Decimal{}
	yearly := map[string]decimal.Decimal{}

	for _, o := range orders {
		ts := o.CreatedAt.UTC()
		if !ts.Before(dailyFrom) {
			add(daily, ts.Format("2006-01-02"), o.TotalPrice)
		}
		if !ts.Before(weeklyFrom) {
			year, week := ts.ISOWeek()
			add(weekly, fmt.Sprintf("%04d-W%02d", year, week), o.TotalPrice)
		}
		if !ts.Before(monthlyFrom) {
			add(monthly, ts.Format("2006-01"), o.TotalPrice)
		}
		add(yearly, ts.Format("2006"), o.TotalPrice)
	}

	return IncomeSummary{
		Daily:   sorted(daily),
		Weekly:  sorted(weekly),
		Monthly: sorted(monthly),
		Yearly:  sorted(yearly),
	}, nil
}

func add(m map[string]decimal.Decimal, key string, amount decimal.Decimal) {
	m[key] = m[key].Add(amount)
}

func sorted(m map[string]decimal.Decimal) []IncomeBucket {
	buckets := make([]IncomeBucket, 0, len(m))
	for k, v := range m {
		buckets = append(buckets, IncomeBucket{Key: k, Total: v})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}
