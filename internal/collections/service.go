package collections

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/bentoya/bentoya/internal/shared"
)

// dueSoonDays is the "due within N days" horizon reported by the summary.
const dueSoonDays = 7

// RepositoryPort defines read access to the outstanding-invoice balance view.
type RepositoryPort interface {
	ListOutstanding(ctx context.Context, filter BalanceFilter) ([]OutstandingInvoice, error)
}

// BalanceFilter narrows the balance-view scan before classification.
type BalanceFilter struct {
	CompanyName string
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
}

// Service implements the collection classifier.
type Service struct {
	repo  RepositoryPort
	group singleflight.Group
	clock func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{
		repo: repo,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ListResult is a page of the collection worklist.
type ListResult struct {
	Items      []Item
	Pagination shared.Pagination
}

// List returns the filtered, sorted, paginated collection worklist.
func (s *Service) List(ctx context.Context, query Query) (*ListResult, error) {
	switch query.AlertLevel {
	case "", AlertOverdue, AlertUrgent, AlertNormal:
	default:
		return nil, fmt.Errorf("%w: unknown alert level %q", shared.ErrValidation, query.AlertLevel)
	}
	switch query.Sort {
	case "", SortPriority, SortAmountDesc, SortDueDate, SortCompanyName:
	default:
		return nil, fmt.Errorf("%w: unknown sort key %q", shared.ErrValidation, query.Sort)
	}
	switch query.DueBucket {
	case BucketAll, BucketToday, BucketThisWeek, BucketOverdue:
	default:
		return nil, fmt.Errorf("%w: unknown due bucket %q", shared.ErrValidation, query.DueBucket)
	}
	if query.AmountMin != nil && query.AmountMax != nil && query.AmountMin.GreaterThan(*query.AmountMax) {
		return nil, fmt.Errorf("%w: amount_min exceeds amount_max", shared.ErrValidation)
	}

	items, err := s.classified(ctx, BalanceFilter{
		CompanyName: query.CompanyName,
		AmountMin:   query.AmountMin,
		AmountMax:   query.AmountMax,
	})
	if err != nil {
		return nil, err
	}

	today := s.today()
	filtered := items[:0:0]
	for _, item := range items {
		if query.AlertLevel != "" && item.AlertLevel != query.AlertLevel {
			continue
		}
		if !inBucket(item, query.DueBucket, today) {
			continue
		}
		filtered = append(filtered, item)
	}

	sortItems(filtered, query.Sort)

	pagination := shared.NewPagination(query.Page, query.Limit, len(filtered))
	start, end := pagination.Slice()
	return &ListResult{Items: filtered[start:end], Pagination: pagination}, nil
}

// Summary aggregates the whole outstanding set. Concurrent identical calls
// share one scan via singleflight; the result is never cached beyond the
// in-flight computation, so it always reflects payments committed before the
// scan began.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	v, err, _ := s.group.Do("summary", func() (any, error) {
		return s.computeSummary(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

func (s *Service) computeSummary(ctx context.Context) (*Summary, error) {
	items, err := s.classified(ctx, BalanceFilter{})
	if err != nil {
		return nil, err
	}

	summary := &Summary{TotalOutstanding: decimal.Zero, DueSoonDays: dueSoonDays}
	today := s.today()
	for _, item := range items {
		summary.TotalOutstanding = summary.TotalOutstanding.Add(item.Outstanding)
		switch item.AlertLevel {
		case AlertOverdue:
			summary.OverdueCount++
		case AlertUrgent:
			summary.UrgentCount++
		default:
			summary.NormalCount++
		}
		due := daysBetween(today, item.DueDate)
		if due == 0 {
			summary.DueTodayCount++
		}
		if due >= 0 && due <= dueSoonDays {
			summary.DueSoonCount++
		}
	}
	return summary, nil
}

func (s *Service) classified(ctx context.Context, filter BalanceFilter) ([]Item, error) {
	invoices, err := s.repo.ListOutstanding(ctx, filter)
	if err != nil {
		return nil, err
	}
	today := s.today()
	items := make([]Item, 0, len(invoices))
	for _, inv := range invoices {
		level, overdueDays := Classify(inv.DueDate, today)
		items = append(items, Item{OutstandingInvoice: inv, AlertLevel: level, OverdueDays: overdueDays})
	}
	return items, nil
}

func (s *Service) today() time.Time {
	now := s.clock()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func inBucket(item Item, bucket DueBucket, today time.Time) bool {
	switch bucket {
	case BucketToday:
		return daysBetween(today, item.DueDate) == 0
	case BucketThisWeek:
		due := daysBetween(today, item.DueDate)
		return due >= 0 && due <= 6
	case BucketOverdue:
		return item.AlertLevel == AlertOverdue
	default:
		return true
	}
}

var alertRank = map[AlertLevel]int{AlertOverdue: 0, AlertUrgent: 1, AlertNormal: 2}

func sortItems(items []Item, key SortKey) {
	switch key {
	case SortAmountDesc:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Outstanding.GreaterThan(items[j].Outstanding)
		})
	case SortDueDate:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].DueDate.Before(items[j].DueDate)
		})
	case SortCompanyName:
		sort.SliceStable(items, func(i, j int) bool {
			return strings.ToLower(items[i].CompanyName) < strings.ToLower(items[j].CompanyName)
		})
	default: // SortPriority
		sort.SliceStable(items, func(i, j int) bool {
			if alertRank[items[i].AlertLevel] != alertRank[items[j].AlertLevel] {
				return alertRank[items[i].AlertLevel] < alertRank[items[j].AlertLevel]
			}
			if !items[i].DueDate.Equal(items[j].DueDate) {
				return items[i].DueDate.Before(items[j].DueDate)
			}
			return items[i].Outstanding.GreaterThan(items[j].Outstanding)
		})
	}
}
