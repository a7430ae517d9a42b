package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vietddude/lingo/internal/control"
	"github.com/vietddude/lingo/internal/core/config"
	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/infra/provider"
	"github.com/vietddude/lingo/internal/jobs"
)

type translateOptions struct {
	To         string
	From       string
	Tone       string
	Mode       string
	Format     string
	Out        string
	StatePath  string
	DryRun     bool
	KeepSource bool
}

var translateOpts translateOptions

var translateCmd = &cobra.Command{
	Use:   "translate <file>",
	Short: "Translate a text or SRT file locally and write the result",
	Long: "Translate runs a single job in-process against the configured credential pool. " +
		"Use - to read from stdin. Failed units are reported on stderr.",
	Args: cobra.ExactArgs(1),
	Run:  runTranslate,
}

func init() {
	f := translateCmd.Flags()
	f.StringVar(&translateOpts.To, "to", "", "Target language (BCP 47)")
	f.StringVar(&translateOpts.From, "from", "", "Source language (BCP 47), detected by the model when empty")
	f.StringVar(&translateOpts.Tone, "tone", "", "Tone hint passed to the model")
	f.StringVar(&translateOpts.Mode, "mode", "", "Dispatch mode: isolation or parallel")
	f.StringVar(&translateOpts.Format, "format", "", "Input format: text, lines or srt (default from file extension)")
	f.StringVarP(&translateOpts.Out, "out", "o", "", "Output file (default stdout)")
	f.StringVar(&translateOpts.StatePath, "state", "", "SQLite file that keeps credential usage between runs")
	f.BoolVar(&translateOpts.DryRun, "dry-run", false, "Use the echo translator instead of real providers")
	f.BoolVar(&translateOpts.KeepSource, "keep-source", true, "Emit the source text for units that failed")
	_ = translateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) {
	var cfg *config.AppConfig
	if translateOpts.DryRun {
		cfg = dryRunConfig()
	} else {
		cfg = loadConfig()
	}

	input, err := readInput(args[0])
	if err != nil {
		slog.Error("Failed to read input", "error", err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := translate(ctx, cfg, translateOpts, args[0], input)
	if err != nil {
		slog.Error("Translation failed", "error", err)
		os.Exit(1)
	}

	if err := writeOutput(translateOpts.Out, output(res, translateOpts.KeepSource)); err != nil {
		slog.Error("Failed to write output", "error", err)
		os.Exit(1)
	}
	reportResult(os.Stderr, res)
	if res.Status != domain.JobComplete {
		os.Exit(2)
	}
}

// dryRunConfig loads the config when present and otherwise builds one
// with a single mock credential. Providers are replaced by the echo
// translator in both cases.
func dryRunConfig() *config.AppConfig {
	_ = godotenv.Load()
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Parse([]byte(dryRunYAML))
	}
	if err != nil {
		setupLogging("info")
		slog.Error("Failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)
	return cfg
}

const dryRunYAML = `
providers:
  - name: echo
    type: mock
credentials:
  - id: dry-run
    provider: echo
    rpm: 600
    rpd: 100000
`

// translate runs one job in-process and waits for its result. A signal
// cancels the job; units that already settled are kept.
func translate(ctx context.Context, cfg *config.AppConfig, opts translateOptions, name string, input []byte) (*domain.Result, error) {
	if opts.StatePath != "" {
		cfg.State.Driver = "sqlite"
		cfg.State.Path = opts.StatePath
	}

	appOpts := control.Options{DisableHTTP: true, DisableWorkers: true}
	if opts.DryRun {
		appOpts.Translator = provider.NewEcho()
	}
	app, err := control.New(ctx, cfg, appOpts)
	if err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			slog.Warn("Failed to stop cleanly", "error", err)
		}
	}()

	req, err := buildRequest(opts, name, input)
	if err != nil {
		return nil, err
	}
	handle, err := app.Jobs.SubmitJob(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("Job submitted", "job_id", handle.ID, "units", handle.Units, "mode", req.Mode)

	res, err := app.Jobs.Wait(ctx, handle.ID)
	if errors.Is(err, context.Canceled) {
		slog.Warn("Interrupted, cancelling job", "job_id", handle.ID)
		_ = app.Jobs.Cancel(handle.ID)
		res, err = app.Jobs.Wait(context.WithoutCancel(ctx), handle.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("wait for job %s: %w", handle.ID, err)
	}
	return res, nil
}

func buildRequest(opts translateOptions, name string, input []byte) (jobs.SubmitRequest, error) {
	req := jobs.SubmitRequest{
		Mode: domain.DispatchMode(opts.Mode),
		Style: domain.Style{
			SourceLanguage: opts.From,
			TargetLanguage: opts.To,
			Tone:           opts.Tone,
		},
	}

	format := domain.Format(opts.Format)
	if format == "" {
		format = domain.FormatText
		if strings.EqualFold(filepath.Ext(name), ".srt") {
			format = domain.FormatSubtitle
		}
	}
	switch format {
	case domain.FormatLines:
		req.Lines = strings.Split(strings.TrimRight(string(input), "\n"), "\n")
	case domain.FormatText, domain.FormatSubtitle:
		req.Text = string(input)
	default:
		return req, fmt.Errorf("%w: unknown format %q", jobs.ErrInvalidRequest, format)
	}
	req.Format = format
	return req, req.Validate()
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func writeOutput(path, text string) error {
	if path == "" {
		_, err := io.WriteString(os.Stdout, text)
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func output(res *domain.Result, keepSource bool) string {
	if keepSource {
		return res.OutputWithFallback()
	}
	return res.Output
}

// reportResult prints a one-line summary and a table of failed units.
func reportResult(w io.Writer, res *domain.Result) {
	summary := fmt.Sprintf("%s: %d/%d units translated", res.Status, res.Succeeded, res.Total)
	if res.Condition != domain.ConditionNone {
		summary += fmt.Sprintf(" (%s)", res.Condition)
	}
	fmt.Fprintln(w, summary)

	if len(res.Failed) == 0 && len(res.NotAttempted) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Failed)+len(res.NotAttempted))
	for _, f := range res.Failed {
		rows = append(rows, []string{strconv.Itoa(f.Index), string(f.Class), f.Reason, preview(f.Payload)})
	}
	for _, idx := range res.NotAttempted {
		rows = append(rows, []string{strconv.Itoa(idx), "not_attempted", "", ""})
	}
	fmt.Fprintln(w, renderTable(w, []string{"Unit", "Class", "Reason", "Source"}, rows, 0))
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const maxLen = 40
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen-1]) + "…"
	}
	return s
}
