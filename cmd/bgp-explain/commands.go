package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/hervehildenbrand/bgp-explain/pkg/config"
	"github.com/hervehildenbrand/bgp-explain/pkg/database"
	"github.com/hervehildenbrand/bgp-explain/pkg/events"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/rislive"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	startFlag  string
	endFlag    string
	prefixFlag string
	asnFlag    string
	filePrefix string
	printFlag  bool
	skipFlag   string
	bufferSize int
	limitFlag  int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Explain a single incident",
	Long: `Builds the history, before and after routing tables for one incident and
writes the report. Saved tables under the read path are reused.

Example:
  bgp-explain report --time "2008-02-24 18:47:00" --prefix 208.65.153.0/24`,
	RunE: runReport,
}

var batchCmd = &cobra.Command{
	Use:   "batch [incidents.csv|incidents.xlsx]",
	Short: "Explain every incident in a CSV or XLSX file",
	Long: `Reads incidents with the columns Start, IP, AS, End and Event Type and
explains each one. Files of incident i are prefixed with "i_". An incident
that fails is logged and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Explain an incident starting now, using the RIS Live stream",
	Long: `Takes the history and the recent past from the RIPEstat archive, then
streams live updates from RIS Live until the incident window closes and
writes the report.`,
	RunE: runWatch,
}

var reportsCmd = &cobra.Command{
	Use:   "reports [target]",
	Short: "List stored reports for a prefix or AS",
	Args:  cobra.ExactArgs(1),
	RunE:  runReports,
}

func init() {
	for _, cmd := range []*cobra.Command{reportCmd, watchCmd} {
		cmd.Flags().StringVar(&prefixFlag, "prefix", "", "Victim IP prefix")
		cmd.Flags().StringVar(&asnFlag, "asn", "", "Victim AS, e.g. 13335 or AS13335")
		cmd.Flags().StringVar(&filePrefix, "file-prefix", "", "Prefix for every saved file")
		cmd.Flags().BoolVar(&printFlag, "print", false, "Render the report in the terminal")
	}
	reportCmd.Flags().StringVar(&startFlag, "time", "", "Incident start, "+models.TimeLayout+" UTC (required)")
	reportCmd.Flags().StringVar(&endFlag, "end", "", "Incident end, "+models.TimeLayout+" UTC")
	reportCmd.MarkFlagRequired("time")

	batchCmd.Flags().StringVar(&skipFlag, "skip", "", "Comma-separated incident indices to skip")

	watchCmd.Flags().IntVar(&bufferSize, "buffer", 10000, "Live update channel buffer size")

	reportsCmd.Flags().IntVar(&limitFlag, "limit", 10, "Maximum number of reports")
}

func targetFromFlags() (models.Event, error) {
	var event models.Event
	event.Prefix = strings.TrimSpace(prefixFlag)
	if asnFlag != "" {
		asn, err := models.ParseASNString(strings.TrimSpace(asnFlag))
		if err != nil {
			return event, err
		}
		event.ASN = asn
	}
	if event.Prefix == "" && event.ASN == 0 {
		return event, errors.New("one of --prefix or --asn is required")
	}
	return event, nil
}

func runReport(cmd *cobra.Command, args []string) error {
	event, err := targetFromFlags()
	if err != nil {
		return err
	}
	if event.Start, err = models.ParseTime(startFlag); err != nil {
		return err
	}
	if endFlag != "" {
		if event.End, err = models.ParseTime(endFlag); err != nil {
			return err
		}
	}

	ctx, cancel := runContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.pipeline.Single(ctx, event, filePrefix)
	if err != nil {
		return err
	}
	return emit(res.Report)
}

func runBatch(cmd *cobra.Command, args []string) error {
	incidents, err := events.Load(args[0])
	if err != nil {
		return err
	}
	skip := cfg.SkipSet()
	if skipFlag != "" {
		indices, err := config.ParseSkip(skipFlag)
		if err != nil {
			return err
		}
		for _, i := range indices {
			skip[i] = true
		}
	}

	ctx, cancel := runContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("batch starting", zap.String("file", args[0]), zap.Int("incidents", len(incidents)))
	out, err := rt.pipeline.Multi(ctx, incidents, skip)
	if err != nil {
		return err
	}
	if len(out.Reports) == 0 && len(out.Failed) > 0 {
		return fmt.Errorf("all %d incidents failed", len(out.Failed))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	event, err := targetFromFlags()
	if err != nil {
		return err
	}
	event.Start = time.Now().UTC().Truncate(time.Second)
	if filePrefix == "" {
		filePrefix = "live_" + event.Start.Format("20060102T150405") + "_"
	}

	ctx, cancel := runContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sub := rislive.Subscription{Prefix: event.Prefix, MoreSpecific: true, LessSpecific: true}
	if event.Prefix == "" {
		sub = rislive.Subscription{Path: fmt.Sprintf("%d$", event.ASN)}
	}
	live := rislive.NewMultiClient(cfg.RISLiveURL, cfg.Collectors, sub, bufferSize, logger)

	res, err := rt.pipeline.Watch(ctx, event, live, filePrefix)
	if err != nil {
		return err
	}
	return emit(res.Report)
}

func runReports(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("no database configured (set --database or BGP_EXPLAIN_DATABASE)")
	}
	ctx, cancel := runContext()
	defer cancel()

	writer, err := database.NewReportWriter(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	writer.Start()
	defer writer.Stop()

	rows, err := database.Recent(ctx, writer.DB(), normalizeTarget(args[0]), limitFlag)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tVERDICT\tSEVERITY\tEVENT")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.ID, row.EventStart.UTC().Format(models.TimeLayout), row.Verdict, row.Severity, firstLine(row.FinalEvent))
	}
	return tw.Flush()
}

// emit prints the report, rendered when --print is set.
func emit(md string) error {
	if !printFlag {
		fmt.Println(md)
		return nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	fmt.Print(out)
	return nil
}

// normalizeTarget stores ASN targets as "AS<n>", matching models.Event.Target.
func normalizeTarget(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return s
	}
	if asn, err := models.ParseASNString(s); err == nil {
		return fmt.Sprintf("AS%d", asn)
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
