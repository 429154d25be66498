package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"sweep_notifier/internal/app"
	"sweep_notifier/internal/domain/calendar"
	"sweep_notifier/internal/domain/subscription"
	"sweep_notifier/internal/infra/config"

	"github.com/urfave/cli"
)

const outputLayout = time.RFC3339

var (
	nowFlag = cli.StringFlag{
		Name:  "now",
		Usage: "evaluate at this instant (RFC3339, or \"2006-01-02 15:04\" in --tz) instead of the current time",
	}
	tzFlag = cli.StringFlag{
		Name:  "tz",
		Usage: "civil timezone",
		Value: config.DefaultTimezone,
	}
	tokenFlag = cli.StringFlag{
		Name:  "token",
		Usage: "device push token",
	}
	targetFlag = cli.Int64Flag{
		Name:  "target",
		Usage: "schedule block_sweep_id or parking regulation id",
	}
)

var sweepFlags = []cli.Flag{
	cli.BoolFlag{Name: "dry-run", Usage: "compute and log, but deliver and persist nothing"},
	cli.IntFlag{Name: "cadence", Usage: "override NOTIFY_CADENCE_MINUTES"},
	nowFlag,
}

func sweep(c *cli.Context) error {
	ctx := context.Background()
	d, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer d.Close()

	cadence := d.cfg.CadenceMinutes
	if c.IsSet("cadence") {
		cadence = c.Int("cadence")
	}
	now, err := parseInstant(c.String("now"), d.cfg.Location)
	if err != nil {
		return err
	}

	res, err := d.sweepService().Run(ctx, now, cadence, d.dryRun || c.Bool("dry-run"))
	if err != nil {
		return fmt.Errorf("notification sweep failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Done. Sent=%d Skipped=%d DryRun=%t RunID=%s\n", res.Sent, res.Skipped, res.DryRun, res.RunID)
	return nil
}

var nextFlags = []cli.Flag{
	cli.StringFlag{Name: "weekday", Usage: "weekday label, e.g. Mon or Tues; repeat with commas"},
	cli.StringFlag{Name: "weeks", Usage: "weeks of the month, e.g. 1,3; empty means every week"},
	cli.StringFlag{Name: "from", Usage: "window start HH:MM", Value: "08:00"},
	cli.StringFlag{Name: "to", Usage: "window end HH:MM; at or before --from ends the next day", Value: "10:00"},
	nowFlag,
	tzFlag,
}

func next(c *cli.Context) error {
	loc, err := time.LoadLocation(c.String("tz"))
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}
	rule, err := ruleFromFlags(c)
	if err != nil {
		return err
	}
	now, err := parseInstant(c.String("now"), loc)
	if err != nil {
		return err
	}

	occ, err := calendar.NextOccurrence(rule, now, loc)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, calendar.Describe(rule))
	fmt.Fprintf(c.App.Writer, "start: %s\nend:   %s\n", occ.Start.Format(outputLayout), occ.End.Format(outputLayout))
	return nil
}

func ruleFromFlags(c *cli.Context) (calendar.Rule, error) {
	var days []calendar.Weekday
	for _, label := range strings.Split(c.String("weekday"), ",") {
		if strings.TrimSpace(label) == "" {
			continue
		}
		d, err := calendar.ParseWeekdayLabel(label)
		if err != nil {
			return calendar.Rule{}, err
		}
		days = append(days, d)
	}
	weeks, err := parseWeeks(c.String("weeks"))
	if err != nil {
		return calendar.Rule{}, err
	}
	start, err := calendar.ParseClockTime(c.String("from"))
	if err != nil {
		return calendar.Rule{}, err
	}
	end, err := calendar.ParseClockTime(c.String("to"))
	if err != nil {
		return calendar.Rule{}, err
	}
	return calendar.Rule{
		Weekdays:     calendar.NewWeekdaySet(days...),
		WeeksOfMonth: weeks,
		Window:       calendar.TimeWindow{Start: start, End: end},
	}, nil
}

func parseWeeks(raw string) ([]int, error) {
	var weeks []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", calendar.ErrInvalidWeekOfMonth, part)
		}
		weeks = append(weeks, n)
	}
	return weeks, nil
}

var deadlineFlags = []cli.Flag{
	cli.StringFlag{Name: "days", Usage: "regulated day range: M-F, M-Sa or M-Su", Value: "M-F"},
	cli.IntFlag{Name: "begin", Usage: "enforcement start, military time", Value: 900},
	cli.IntFlag{Name: "end", Usage: "enforcement end, military time", Value: 1800},
	cli.IntFlag{Name: "limit", Usage: "hour limit", Value: 2},
	cli.StringFlag{Name: "parked-at", Usage: "when the car was parked; defaults to now"},
	tzFlag,
}

func deadline(c *cli.Context) error {
	loc, err := time.LoadLocation(c.String("tz"))
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}
	parkedAt, err := parseInstant(c.String("parked-at"), loc)
	if err != nil {
		return err
	}
	moveBy, err := calendar.NextMoveDeadline(c.String("days"), c.Int("begin"), c.Int("end"), c.Int("limit"), parkedAt, loc)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "move by: %s\n", moveBy.Format(outputLayout))
	return nil
}

var subscribeFlags = []cli.Flag{
	tokenFlag,
	targetFlag,
	cli.StringFlag{Name: "type", Usage: "sweeping or timing", Value: string(subscription.TypeSweeping)},
	cli.StringFlag{Name: "platform", Usage: "ios, android or web", Value: "ios"},
	cli.IntFlag{Name: "lead", Usage: "minutes before the event to notify", Value: 60},
}

func subscribe(c *cli.Context) error {
	ctx := context.Background()
	d, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer d.Close()

	svc := app.NewSubscriptionService(d.subs, d.schedules, d.cfg.Location)
	rec, err := svc.Subscribe(ctx, app.SubscribeRequest{
		DeviceToken: c.String("token"),
		Platform:    c.String("platform"),
		Type:        subscription.Type(c.String("type")),
		TargetID:    c.Int64("target"),
		LeadMinutes: c.Int("lead"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Subscribed %s to %s %d (lead %d minutes)\n", rec.Platform, rec.Type, rec.TargetID, rec.LeadMinutes)
	return nil
}

func status(c *cli.Context) error {
	ctx := context.Background()
	d, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer d.Close()

	svc := app.NewSubscriptionService(d.subs, d.schedules, d.cfg.Location)
	statuses, err := svc.Status(ctx, c.String("token"))
	if err != nil {
		return err
	}
	writeStatuses(c, statuses)
	return nil
}

func writeStatuses(c *cli.Context, statuses []app.Status) {
	if len(statuses) == 0 {
		fmt.Fprintln(c.App.Writer, "No subscriptions.")
		return
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tTARGET\tLEAD\tNEXT EVENT\tNOTIFY AT\tDESCRIPTION")
	for _, st := range statuses {
		nextEvent, notifyAt := "-", "-"
		if st.NextEventErr == nil {
			nextEvent = st.NextEvent.Format(outputLayout)
			notifyAt = st.IdealNotifyAt.Format(outputLayout)
		} else {
			nextEvent = "error: " + st.NextEventErr.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%dm\t%s\t%s\t%s\n", st.Record.Type, st.Record.TargetID, st.Record.LeadMinutes, nextEvent, notifyAt, st.Description)
	}
	w.Flush()
}

func unsubscribe(c *cli.Context) error {
	ctx := context.Background()
	d, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer d.Close()

	svc := app.NewSubscriptionService(d.subs, d.schedules, d.cfg.Location)
	if err := svc.Unsubscribe(ctx, c.String("token"), c.Int64("target")); err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return errors.New("no subscription for that device and target")
		}
		return err
	}
	fmt.Fprintln(c.App.Writer, "Unsubscribed.")
	return nil
}

// parseInstant reads RFC3339, or a wall-clock "2006-01-02 15:04" in loc.
// Empty means now.
func parseInstant(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or \"2006-01-02 15:04\"", raw)
	}
	return t, nil
}
