package app

import (
	"fmt"
	"strconv"
	"time"

	"sweep_notifier/internal/domain/calendar"
	"sweep_notifier/internal/domain/push"
	"sweep_notifier/internal/domain/schedule"
	"sweep_notifier/internal/domain/subscription"
)

const clockLayout = "3:04 PM"

func sweepingMessage(r *subscription.Record, s *schedule.SweepingSchedule, window calendar.Occurrence, loc *time.Location) push.Message {
	start := window.Start.In(loc)
	end := window.End.In(loc)
	return push.Message{
		Title: fmt.Sprintf("Street sweeping on %s in %d minutes!", s.Corridor, r.LeadMinutes),
		Body:  fmt.Sprintf("%s: %s - %s", s.Location(), start.Format(clockLayout), end.Format(clockLayout)),
		Data: map[string]string{
			"schedule_block_sweep_id": strconv.FormatInt(s.BlockSweepID, 10),
			"next_sweep_start":        start.Format(time.RFC3339),
			"next_sweep_end":          end.Format(time.RFC3339),
			"subscription_type":       string(subscription.TypeSweeping),
		},
	}
}

func timingMessage(reg *schedule.ParkingRegulation, deadline time.Time, loc *time.Location) push.Message {
	local := deadline.In(loc)
	body := fmt.Sprintf("%d-hour limit", reg.HourLimit.Int64)
	if reg.Neighborhood.Valid && reg.Neighborhood.String != "" {
		body = reg.Neighborhood.String + ": " + body
	}
	return push.Message{
		Title: "Move your car by " + local.Format(clockLayout),
		Body:  body,
		Data: map[string]string{
			"regulation_id":     strconv.FormatInt(reg.ID, 10),
			"move_deadline":     local.Format(time.RFC3339),
			"subscription_type": string(subscription.TypeTiming),
		},
	}
}
