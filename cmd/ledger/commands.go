package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"dailyledger/internal/amqp"
	"dailyledger/internal/classify"
	"dailyledger/internal/cli"
	"dailyledger/internal/codec"
	"dailyledger/internal/config"
	"dailyledger/internal/core"
	"dailyledger/internal/metrics"
	"dailyledger/internal/services"
	"dailyledger/internal/worker"
)

type environment struct {
	svc     *services.LedgerService
	cfg     *config.Config
	metrics *metrics.Collector
	logger  *slog.Logger
	out     io.Writer
	in      io.Reader
}

type command struct {
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"add":        {"add an item: add [-date D] \"Milk (2L) - ₹45.00|CATS:Groceries\"", runAdd},
	"list":       {"list a day's items: list [-date D]", runList},
	"done":       {"toggle the done mark: done ID...", runDone},
	"edit-price": {"set an item's price from text: edit-price ID PRICE", runEditPrice},
	"delete":     {"delete items: delete ID...", runDelete},
	"replace":    {"replace a day with descriptor lines: replace [-date D] [-file F]", runReplace},
	"save":       {"snapshot a day: save [-date D] [-master]", runSave},
	"snapshots":  {"list snapshots: snapshots [-from D] [-to D] [-master]", runSnapshots},
	"promote":    {"make a snapshot its day's master: promote ID", runPromote},
	"restore":    {"restore a snapshot into its day: restore ID", runRestore},
	"legend":     {"show a day's categories by tier: legend [-date D]", runLegend},
	"filter":     {"items matching category combinations: filter [-from D] [-to D] GROUP...", runFilter},
	"export":     {"write a backup archive: export [-o FILE]", runExport},
	"import":     {"replace everything with an archive: import [-i FILE]", runImport},
	"follow":     {"consume day-change events and print summaries", runFollow},
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// dayFlag registers a -name YYYY-MM-DD flag defaulting to today.
func dayFlag(fs *flag.FlagSet, name string) *string {
	return fs.String(name, "", "day as "+core.DayLayout+" (default today)")
}

func (env *environment) day(s string) (time.Time, error) {
	loc := env.svc.Location()
	if s == "" {
		return time.Now().In(loc), nil
	}
	return core.ParseDay(s, loc)
}

func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one id is required")
	}
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", a, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func runAdd(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("add")
	date := dayFlag(fs, "date")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("descriptor text is required")
	}
	day, err := env.day(*date)
	if err != nil {
		return err
	}

	item, err := env.svc.AddItemText(ctx, strings.Join(fs.Args(), " "), day)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "added %d: %s\n", item.ID, codec.Text(item))
	return nil
}

func runList(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("list")
	date := dayFlag(fs, "date")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day, err := env.day(*date)
	if err != nil {
		return err
	}

	records, err := env.svc.DayView(ctx, day)
	if err != nil {
		return err
	}
	total, err := env.svc.DayTotal(ctx, day)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tITEM\tQTY\tPRICE\tCATEGORIES")
	for _, r := range records {
		done := ""
		if r.IsChecked {
			done = "x"
		}
		qty := ""
		if r.Quantity != nil {
			qty = *r.Quantity
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.SourceItemID, done, r.Description, qty, r.PriceText, strings.Join(r.Categories, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(env.out, "\n%s total: %s", day.Format(core.DayLayout), core.FormatPrice(total))
	if master, ok, err := env.svc.MasterTotal(ctx, day); err == nil && ok {
		fmt.Fprintf(env.out, " (saved: %s)", core.FormatPrice(master))
	}
	fmt.Fprintln(env.out)
	return nil
}

func runDone(ctx context.Context, env *environment, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		item, err := env.svc.ToggleDone(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "%d done=%t\n", item.ID, item.IsDone)
	}
	return nil
}

func runEditPrice(ctx context.Context, env *environment, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: edit-price ID PRICE")
	}
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}
	item, err := env.svc.SetPriceText(ctx, ids[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%d: %s\n", item.ID, codec.Text(item))
	return nil
}

func runDelete(ctx context.Context, env *environment, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := env.svc.DeleteItem(ctx, id); err != nil {
			return err
		}
	}
	fmt.Fprintf(env.out, "deleted %d item(s)\n", len(ids))
	return nil
}

// readDescriptorLines returns the non-blank lines of r, skipping # comments.
func readDescriptorLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return lines, nil
}

func runReplace(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("replace")
	date := dayFlag(fs, "date")
	file := fs.String("file", "", "descriptor lines, one item per line (default stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day, err := env.day(*date)
	if err != nil {
		return err
	}

	in := env.in
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open %s: %w", *file, err)
		}
		defer f.Close()
		in = f
	}
	lines, err := readDescriptorLines(in)
	if err != nil {
		return err
	}

	if err := env.svc.ReplaceDayText(ctx, day, lines); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%s now has %d item(s)\n", day.Format(core.DayLayout), len(lines))
	return nil
}

func runSave(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("save")
	date := dayFlag(fs, "date")
	master := fs.Bool("master", false, "mark the snapshot as the day's final total")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day, err := env.day(*date)
	if err != nil {
		return err
	}

	snap, err := env.svc.SaveDay(ctx, day, *master)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "snapshot %d: %d item(s), total %s, master=%t\n",
		snap.ID, len(snap.Payload), core.FormatPrice(snap.TotalSum), snap.IsMasterSave)
	return nil
}

func runSnapshots(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("snapshots")
	from := dayFlag(fs, "from")
	to := dayFlag(fs, "to")
	masterOnly := fs.Bool("master", false, "only master snapshots")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := env.day(*from)
	if err != nil {
		return err
	}
	end := start
	if *to != "" {
		if end, err = env.day(*to); err != nil {
			return err
		}
	}

	snaps, err := env.svc.Snapshots(ctx, start, end, *masterOnly)
	if err != nil {
		return err
	}

	loc := env.svc.Location()
	tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tMASTER\tITEMS\tTOTAL\tSAVED AT")
	for _, s := range snaps {
		master := ""
		if s.IsMasterSave {
			master = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			s.ID,
			core.FromMillis(s.RecordDate, loc).Format(core.DayLayout),
			master,
			len(s.Payload),
			core.FormatPrice(s.TotalSum),
			core.FromMillis(s.TimestampMillis, loc).Format(time.DateTime))
	}
	return tw.Flush()
}

func runPromote(ctx context.Context, env *environment, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return errors.New("usage: promote ID")
	}
	snap, err := env.svc.PromoteSnapshot(ctx, ids[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "snapshot %d is now the master for %s\n",
		snap.ID, core.FromMillis(snap.RecordDate, env.svc.Location()).Format(core.DayLayout))
	return nil
}

func runRestore(ctx context.Context, env *environment, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return errors.New("usage: restore ID")
	}
	items, err := env.svc.RestoreSnapshot(ctx, ids[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "restored %d item(s) from snapshot %d\n", len(items), ids[0])
	return nil
}

// palette colors a category deterministically by name.
var palette = classify.ColorFunc(func(name string, tier core.Tier) string {
	colors := [...][]string{
		core.Primary:   {"#1b5e20", "#2e7d32", "#388e3c", "#43a047"},
		core.Secondary: {"#0d47a1", "#1565c0", "#1976d2", "#1e88e5"},
		core.Tertiary:  {"#e65100", "#ef6c00", "#f57c00", "#fb8c00"},
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(name)))
	set := colors[tier]
	return set[int(h.Sum32()%uint32(len(set)))]
})

func runLegend(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("legend")
	date := dayFlag(fs, "date")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day, err := env.day(*date)
	if err != nil {
		return err
	}

	legend, err := env.svc.Legend(ctx, day, palette)
	if err != nil {
		return err
	}
	for _, group := range []struct {
		tier    core.Tier
		entries []classify.LegendEntry
	}{
		{core.Primary, legend.Primary},
		{core.Secondary, legend.Secondary},
		{core.Tertiary, legend.Tertiary},
	} {
		fmt.Fprintf(env.out, "%s:\n", group.tier)
		for _, e := range group.entries {
			fmt.Fprintf(env.out, "  %s %s\n", e.Color, e.Name)
		}
	}
	return nil
}

func runFilter(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("filter")
	from := dayFlag(fs, "from")
	to := dayFlag(fs, "to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := env.day(*from)
	if err != nil {
		return err
	}
	end := start
	if *to != "" {
		if end, err = env.day(*to); err != nil {
			return err
		}
	}

	groups := make([][]string, 0, fs.NArg())
	for _, arg := range fs.Args() {
		groups = append(groups, splitList(arg))
	}

	items, err := env.svc.FilterIntersection(ctx, start, end, groups)
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Fprintf(env.out, "%d\t%s\n", it.ID, codec.Text(it))
	}
	fmt.Fprintf(env.out, "%d item(s), total %s\n", len(items), core.FormatPrice(core.SumPrices(items)))
	return nil
}

func runExport(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("export")
	output := fs.String("o", "", "archive file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	archive, err := env.svc.Export(ctx)
	if err != nil {
		return err
	}

	if *output == "" {
		return services.WriteArchive(env.out, archive)
	}
	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("create %s: %w", *output, err)
	}
	if err := services.WriteArchive(f, archive); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runImport(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet("import")
	input := fs.String("i", "", "archive file (default stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := env.in
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			return fmt.Errorf("open %s: %w", *input, err)
		}
		defer f.Close()
		in = f
	}

	archive, err := services.ReadArchive(in)
	if err != nil {
		return err
	}
	if err := env.svc.Import(ctx, archive); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "imported archive %s: %d item(s), %d snapshot(s)\n",
		archive.ID, len(archive.Items), len(archive.Snapshots))
	return nil
}

func runFollow(_ context.Context, env *environment, args []string) error {
	if env.cfg.AMQPURL == "" {
		return errors.New("follow requires AMQP_URL")
	}

	client, err := amqp.NewClient(env.cfg.AMQPURL, env.cfg.AMQPExchange, env.cfg.AMQPQueue, amqp.WithMetrics(env.metrics))
	if err != nil {
		return fmt.Errorf("connect AMQP: %w", err)
	}

	ctx, done := cli.GracefulShutdown(env.logger, 10*time.Second, func() {
		if err := client.Close(); err != nil {
			env.logger.Warn("Failed to close AMQP client", "error", err)
		}
	})

	w := worker.NewDayWorker(env.svc.Store(), env.svc.Location(), func(_ context.Context, s worker.DaySummary) {
		day := "all days"
		if !s.Date.IsZero() {
			day = s.Date.Format(core.DayLayout)
		}
		line := fmt.Sprintf("%s %s: %d item(s), total %s", s.Op, day, s.Items, core.FormatPrice(s.Total))
		if s.HasMaster {
			line += ", saved " + core.FormatPrice(s.MasterTotal)
		}
		fmt.Fprintln(env.out, line)
		cli.FlushMetrics(env.logger, env.metrics, env.cfg.MetricsTextfile)
	})

	err = client.ConsumeDayChanged(ctx, w.HandleDayChanged)
	if ctx.Err() == nil {
		client.Close()
		return err
	}
	cli.WaitForShutdown(ctx, done)
	return nil
}
