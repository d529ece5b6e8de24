package emi

import (
	"sort"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
)

// Feed window around today, in calendar months.
const (
	PastWindowMonths   = 6
	FutureWindowMonths = 12
)

// UpcomingWindow returns the inclusive [today-6m, today+12m] bounds.
func UpcomingWindow(now time.Time) (from, to domain.Date) {
	today := domain.NewDate(now)
	return today.AddMonths(-PastWindowMonths), today.AddMonths(FutureWindowMonths)
}

// AggregateUpcoming merges the schedules of all plans into one feed sorted by
// due date. Rows for the same date keep their input order.
func AggregateUpcoming(schedules []domain.PlanSchedule, now time.Time) []domain.UpcomingInstallmentRow {
	from, to := UpcomingWindow(now)

	rows := make([]domain.UpcomingInstallmentRow, 0)
	for _, s := range schedules {
		name := s.Plan.DisplayName()
		for _, inst := range s.Installments {
			if !inst.DueDate.Within(from, to) {
				continue
			}
			row := domain.UpcomingInstallmentRow{
				InstallmentID:     inst.ID,
				PlanID:            s.Plan.ID,
				InstallmentNumber: inst.InstallmentNumber,
				DueDate:           inst.DueDate,
				PlanName:          name,
				Amount:            inst.Amount,
				Status:            inst.Status,
			}
			if inst.Status == domain.InstallmentPaid {
				row.PaidAt = inst.PaidAt
			}
			rows = append(rows, row)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].DueDate.Before(rows[j].DueDate)
	})
	return rows
}
