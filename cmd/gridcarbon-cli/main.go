package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gridcarbon/internal/dashboard"
	"gridcarbon/pkg/gridcarbon"
)

const version = "0.1.0"

func main() {
	server := os.Getenv("GRIDCARBON_SERVER")
	if server == "" {
		server = "http://localhost:3000"
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gridcarbon-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version               Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  days [-from] [-to]    List stored days\n")
		fmt.Fprintf(os.Stderr, "  summary               Show monthly emission extremes\n")
		fmt.Fprintf(os.Stderr, "  update                Start a carbon data update\n")
		fmt.Fprintf(os.Stderr, "  runs [-limit N]       List recent update runs\n")
		fmt.Fprintf(os.Stderr, "  mix                   Show the current power mix\n")
		fmt.Fprintf(os.Stderr, "\nServer: $GRIDCARBON_SERVER (default %s)\n", server)
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	c := gridcarbon.NewClient(server)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("gridcarbon-cli %s\n", version)

	case "days":
		fs := flag.NewFlagSet("days", flag.ExitOnError)
		from := fs.String("from", "", "first day")
		to := fs.String("to", "", "last day")
		fs.Parse(os.Args[2:])
		err = printDays(ctx, c, *from, *to)

	case "summary":
		err = printSummary(ctx, c)

	case "update":
		var id string
		id, err = c.TriggerUpdate(ctx)
		if errors.Is(err, gridcarbon.ErrRunInProgress) {
			fmt.Println("an update is already running")
			err = nil
		} else if err == nil {
			fmt.Printf("update started: %s\n", id)
		}

	case "runs":
		fs := flag.NewFlagSet("runs", flag.ExitOnError)
		limit := fs.Int("limit", 10, "number of runs")
		fs.Parse(os.Args[2:])
		err = printRuns(ctx, c, *limit)

	case "mix":
		err = printMix(ctx, c)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printDays(ctx context.Context, c *gridcarbon.Client, from, to string) error {
	days, err := c.Days(ctx, from, to)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DAY\tHYDRO\tCOAL\tWIND\tSOLAR\tEMISSION\t")
	for _, d := range days {
		solar := d.Metrics["solar_farm"] + d.Metrics["rooftop_solar_commercial"]
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%s\t\n",
			d.Day, d.Metrics["hydro"], d.Metrics["coal"], d.Metrics["wind"], solar,
			dashboard.FormatTonnes(d.Emission))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%s days\n", dashboard.FormatInt(len(days)))
	return nil
}

func printSummary(ctx context.Context, c *gridcarbon.Client) error {
	s, err := c.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s days stored", dashboard.FormatInt(s.Days))
	if s.FirstDay != "" {
		fmt.Printf(" (%s .. %s)", s.FirstDay, s.LastDay)
	}
	fmt.Println()
	if len(s.Months) == 0 {
		fmt.Println("no data for the last complete months")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tMIN\tMAX")
	for _, m := range s.Months {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Label, dashboard.FormatTonnes(m.Min), dashboard.FormatTonnes(m.Max))
	}
	return tw.Flush()
}

func printRuns(ctx context.Context, c *gridcarbon.Client, limit int) error {
	runs, err := c.Runs(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tRANGE\tPLANNED\tAPPENDED\tEMPTY\tFAILED\tDURATION")
	for _, r := range runs {
		dur := "running"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID[:min(8, len(r.ID))], r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.StartDay, r.EndDay, r.Planned, r.Appended, r.Empty, r.Failed, dur)
	}
	return tw.Flush()
}

func printMix(ctx context.Context, c *gridcarbon.Client) error {
	mix, err := c.PowerMix(ctx)
	if errors.Is(err, gridcarbon.ErrNotFound) {
		fmt.Println("no power mix snapshot yet")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("as of %s, total %s\n", mix.FetchedAt.Local().Format(time.DateTime), dashboard.FormatMW(mix.TotalMW))
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tCAPACITY\tSHARE")
	for _, s := range mix.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, dashboard.FormatMW(s.CapacityMW), dashboard.FormatShare(s.SharePct))
	}
	return tw.Flush()
}
