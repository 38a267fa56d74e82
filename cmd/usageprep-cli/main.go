package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"usageprep/internal/collector"
	"usageprep/internal/collector/csvfile"
	"usageprep/internal/config"
	"usageprep/internal/event"
	"usageprep/internal/export"
	"usageprep/internal/filter"
	"usageprep/internal/ipc"
	"usageprep/internal/logging"
	"usageprep/internal/metrics"
	"usageprep/internal/preprocess"
	"usageprep/internal/runner"
	"usageprep/internal/storage"
	"usageprep/internal/storage/backend"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgPath   string
	verbose   bool
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "usageprep-cli",
	Short:         "Preprocess Chronicle app usage exports",
	Long:          `Reconstructs app usage sessions from raw Chronicle Android exports, either directly or through a running usageprep daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cfgPath, cmd.Flags())
		if err != nil {
			return err
		}
		logger, logCloser, err = logging.New(cfg.Log, verbose)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// --- Daemon Client ---

func sendCommand(cmd ipc.Command) (ipc.Response, error) {
	resp, err := ipc.Send(cfg.SocketPath, cmd, 5*time.Second)
	if err != nil {
		return resp, fmt.Errorf("%w\nIs the usageprep daemon running?", err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("daemon: %s", resp.Message)
	}
	return resp, nil
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the usageprep daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendCommand(ipc.Command{Name: ipc.CmdPing})
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's processing counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendCommand(ipc.Command{Name: ipc.CmdStatus})
		if err != nil {
			return err
		}
		var st ipc.StatusData
		if err := ipc.DecodeData(resp.Data, &st); err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode status: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}
		fmt.Printf("Watching:  %s\n", st.RawDataFolder)
		fmt.Printf("Up since:  %s\n", st.StartedAt.Local().Format(time.DateTime))
		fmt.Printf("Queued:    %d\n", st.Queued)
		printSnapshot(st.Stats)
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file>...",
	Short: "Queue raw files on the running daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", arg, err)
			}
			resp, err := sendCommand(ipc.Command{Name: ipc.CmdProcess, Args: ipc.ProcessFileArgs{Path: path}})
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
		}
		return nil
	},
}

// --- Local Processing ---

var processCmd = &cobra.Command{
	Use:   "process [file|folder]...",
	Short: "Preprocess raw files now, without the daemon",
	Long: `Preprocesses every matching raw file under the given files or folders
(defaults to raw_data_folder) and writes one preprocessed CSV per participant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		matcher, err := collector.NewMatcher(cfg.FilePattern, cfg.IgnoreNames)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			if cfg.RawDataFolder == "" {
				return fmt.Errorf("no input given and raw_data_folder is not set")
			}
			args = []string{cfg.RawDataFolder}
		}
		files, err := discover(matcher, args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no raw files found in %s", strings.Join(args, ", "))
		}

		th, err := cfg.Preprocessing.Thresholds()
		if err != nil {
			return err
		}
		var appFilter *filter.AppFilter
		if cfg.FilterFile != "" {
			if appFilter, err = filter.Load(cfg.FilterFile); err != nil {
				return err
			}
			logger.Info("loaded app filter", "path", cfg.FilterFile, "apps", appFilter.Len())
		}
		processor, err := preprocess.NewProcessor(th, appFilter, logger)
		if err != nil {
			return err
		}

		sinks := []runner.Sink{export.NewSink(export.NewWriter(version, th.CustomEngagementWindow), cfg.OutputFolder, cfg.StudyName)}
		store, err := backend.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			sinks = append(sinks, storage.NewSink(store, version))
		}

		r := runner.New(csvfile.New(logger), processor,
			runner.WithSinks(sinks...),
			runner.WithWorkers(cfg.Workers),
			runner.WithLogger(logger),
		)
		logger.Info("processing raw files", "files", len(files), "workers", cfg.Workers)
		summary := r.Run(ctx, files)

		printResults(summary)
		if summary.Stats.FailedFiles > 0 {
			return fmt.Errorf("%d of %d files failed", summary.Stats.FailedFiles, summary.Stats.TotalFiles)
		}
		return nil
	},
}

// discover expands folders into matching raw files. Explicit file
// arguments are taken as given.
func discover(m *collector.Matcher, args []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", arg, err)
		}
		found := []string{arg}
		if info.IsDir() {
			if found, err = m.Discover(arg); err != nil {
				return nil, err
			}
		}
		for _, f := range found {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

var timezonesCmd = &cobra.Command{
	Use:   "timezones [folder]",
	Short: "List the distinct timezones found in raw files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := cfg.RawDataFolder
		if len(args) == 1 {
			folder = args[0]
		}
		if folder == "" {
			return fmt.Errorf("no folder given and raw_data_folder is not set")
		}
		matcher, err := collector.NewMatcher(cfg.FilePattern, cfg.IgnoreNames)
		if err != nil {
			return err
		}
		files, err := matcher.Discover(folder)
		if err != nil {
			return err
		}
		tzs := csvfile.New(logger).Timezones(cmd.Context(), files)
		if len(tzs) == 0 {
			fmt.Println("No timezones found.")
			return nil
		}
		for _, tz := range tzs {
			fmt.Println(tz)
		}
		return nil
	},
}

// --- Reporting ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored app usage for a participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		participant, _ := cmd.Flags().GetString("participant")
		days, _ := cmd.Flags().GetInt("days")
		top, _ := cmd.Flags().GetInt("top")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if cfg.Storage.Driver == "none" {
			cfg.Storage.Driver = "sqlite"
		}
		store, err := backend.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		end := time.Now().UTC()
		start := time.Time{}
		if days > 0 {
			start = end.AddDate(0, 0, -days)
		}
		usageType := event.AppUsage.String()
		records, err := store.GetRecords(ctx, participant, start, end, usageType)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("No usage found for participant %s.\n", participant)
			return nil
		}

		summary := storage.Summarize(records, usageType)
		if top > 0 && len(summary) > top {
			summary = summary[:top]
		}
		printSummary(participant, summary)
		return nil
	},
}

// --- Output ---

const labelWidth = 28

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	headColor = color.New(color.Bold)
)

func printResults(s runner.Summary) {
	for _, f := range s.Files {
		name := filepath.Base(f.Path)
		switch f.Outcome {
		case metrics.OutcomeFailed:
			errColor.Printf("FAIL  ")
			fmt.Printf("%s: %v\n", name, f.Err)
		case metrics.OutcomeEmpty:
			warnColor.Printf("EMPTY ")
			fmt.Printf("%s (%s)\n", name, f.Elapsed.Round(time.Millisecond))
		default:
			okColor.Printf("OK    ")
			fmt.Printf("%s: %d rows (%s)\n", name, f.Rows, f.Elapsed.Round(time.Millisecond))
		}
		for _, w := range f.Warnings {
			warnColor.Printf("      %s\n", w)
		}
	}
	fmt.Println()
	printSnapshot(s.Stats)
}

func printSnapshot(st preprocess.Snapshot) {
	headColor.Println("Files")
	fmt.Printf("  total:     %d\n", st.TotalFiles)
	okColor.Printf("  processed: %d\n", st.ProcessedFiles)
	if st.EmptyFiles > 0 {
		warnColor.Printf("  empty:     %d\n", st.EmptyFiles)
	}
	if st.FailedFiles > 0 {
		errColor.Printf("  failed:    %d\n", st.FailedFiles)
		for _, name := range st.FailedNames() {
			fmt.Printf("    %s: %s\n", name, st.Errors[name])
		}
	}
}

func printSummary(participant string, summary []storage.AppSummary) {
	headColor.Printf("App usage for %s\n", participant)
	headColor.Printf("%s  %8s  %10s\n", fit("Application", labelWidth), "Sessions", "Total")
	var total time.Duration
	for _, s := range summary {
		label := s.ApplicationLabel
		if label == "" {
			label = s.AppPackageName
		}
		fmt.Printf("%s  %8d  %10s\n", fit(label, labelWidth), s.Sessions, formatDuration(s.Total))
		total += s.Total
	}
	headColor.Printf("%s  %8s  %10s\n", fit("Total", labelWidth), "", formatDuration(total))
}

// fit pads or truncates to a display width so CJK and emoji labels line up.
func fit(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.String("socket", "", "Daemon socket path")
	pf.String("db", "", "SQLite database path")
	pf.String("driver", "", "Storage driver (none, sqlite, postgres)")

	pcf := processCmd.Flags()
	pcf.String("study", "", "Study name used for the output folder")
	pcf.String("raw", "", "Folder of raw exports")
	pcf.String("out", "", "Output folder (defaults to the raw folder's parent)")
	pcf.String("filter", "", "App filter file (CSV or YAML)")
	pcf.Int("workers", 0, "Files processed concurrently")
	pcf.String("timezone-policy", "", "Timezone policy (remove_unless_selected, convert_to_selected, remove_unless_primary, convert_to_primary or 0-3)")
	pcf.String("timezone", "", "Selected timezone for policies that need one")
	pcf.Int("min-duration", 0, "Minimum usage duration in seconds")
	pcf.Int("engagement-window", 0, "Custom new-engagement window in seconds")

	timezonesCmd.Flags().String("raw", "", "Folder of raw exports")

	reportCmd.Flags().StringP("participant", "p", "", "Participant ID")
	reportCmd.MarkFlagRequired("participant")
	reportCmd.Flags().IntP("days", "d", 0, "Only include the last N days (0 for all)")
	reportCmd.Flags().Int("top", 20, "Number of apps to show (0 for all)")

	statusCmd.Flags().Bool("json", false, "Print raw JSON")

	rootCmd.AddCommand(pingCmd, statusCmd, enqueueCmd, processCmd, timezonesCmd, reportCmd)
}

func main() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		errColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
