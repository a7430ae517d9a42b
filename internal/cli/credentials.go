package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lingo/internal/control"
	"github.com/vietddude/lingo/internal/core/config"
	"github.com/vietddude/lingo/internal/core/domain"
)

var (
	credServer   string
	credAdminKey string
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Inspect and manage pool credentials",
	Long: "Without --server the commands open the configured state store directly, " +
		"which fails while a server holds the SQLite lock.",
	Run: runListCredentials,
}

var listCredentialsCmd = &cobra.Command{
	Use:   "list",
	Short: "Show credential state and usage",
	Run:   runListCredentials,
}

var disableCredentialCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Remove a credential from selection",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { runSetCredential(args[0], false) },
}

var enableCredentialCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Return a disabled credential to the pool",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { runSetCredential(args[0], true) },
}

var resetUsageCmd = &cobra.Command{
	Use:   "reset-usage",
	Short: "Zero the daily usage counters of every credential",
	Run:   runResetUsage,
}

func init() {
	pf := credentialsCmd.PersistentFlags()
	pf.StringVar(&credServer, "server", "", "Base URL of a running lingo server")
	pf.StringVar(&credAdminKey, "admin-key", os.Getenv("LINGO_ADMIN_KEY"), "Admin key for --server")
	credentialsCmd.AddCommand(listCredentialsCmd, disableCredentialCmd, enableCredentialCmd)
	rootCmd.AddCommand(credentialsCmd, resetUsageCmd)
}

func runListCredentials(cmd *cobra.Command, args []string) {
	var stats []domain.CredentialStats
	if credServer != "" {
		setupLogging("info")
		ctx, stop := signalContext()
		defer stop()
		client := newAPIClient(credServer, credAdminKey)
		if err := client.do(ctx, http.MethodGet, "/api/v1/credentials", nil, &stats); err != nil {
			slog.Error("Failed to list credentials", "error", err)
			os.Exit(1)
		}
	} else {
		err := withLocalApp(loadConfig(), func(ctx context.Context, app *control.App) error {
			stats = app.Pool.Stats()
			return nil
		})
		if err != nil {
			slog.Error("Failed to list credentials", "error", err)
			os.Exit(1)
		}
	}
	printCredentials(os.Stdout, stats, time.Now())
}

func runSetCredential(id string, enable bool) {
	action := "disable"
	if enable {
		action = "enable"
	}

	var err error
	if credServer != "" {
		setupLogging("info")
		ctx, stop := signalContext()
		defer stop()
		client := newAPIClient(credServer, credAdminKey)
		err = client.do(ctx, http.MethodPost, "/api/v1/credentials/"+id+"/"+action, nil, nil)
	} else {
		err = withLocalApp(loadConfig(), func(ctx context.Context, app *control.App) error {
			if enable {
				return app.Pool.Enable(id)
			}
			return app.Pool.Disable(id)
		})
	}
	if err != nil {
		slog.Error("Failed to "+action+" credential", "id", id, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Credential %s %sd\n", id, action)
}

func runResetUsage(cmd *cobra.Command, args []string) {
	err := withLocalApp(loadConfig(), func(ctx context.Context, app *control.App) error {
		return app.ResetUsage(ctx)
	})
	if err != nil {
		slog.Error("Failed to reset usage", "error", err)
		os.Exit(1)
	}
	fmt.Println("Successfully reset daily usage for all credentials")
}

// withLocalApp builds the app against the configured state store without
// starting anything, runs fn, and persists credential state on the way out.
func withLocalApp(cfg *config.AppConfig, fn func(ctx context.Context, app *control.App) error) error {
	if cfg.State.Driver == "memory" {
		slog.Warn("State driver is memory, changes will not outlive this command")
	}

	ctx := context.Background()
	app, err := control.New(ctx, cfg, control.Options{DisableHTTP: true, DisableWorkers: true})
	if err != nil {
		return err
	}
	if err := fn(ctx, app); err != nil {
		app.Close()
		return err
	}
	return app.Stop(ctx)
}

func printCredentials(w io.Writer, stats []domain.CredentialStats, now time.Time) {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		state := string(s.State)
		if s.State == domain.CredentialCooldown && s.CooldownUntil.After(now) {
			state += " (" + s.CooldownUntil.Sub(now).Round(time.Second).String() + ")"
		}
		rows = append(rows, []string{
			s.ID,
			s.Provider,
			state,
			quota(int64(s.UsedToday), int64(s.RPD)),
			quota(s.UsedTotal, s.TotalLimit),
			strconv.Itoa(s.WindowFree) + "/" + strconv.Itoa(s.RPM),
			lastUsed(s.LastUsedAt, now),
		})
	}
	fmt.Fprintln(w, renderTable(w,
		[]string{"ID", "Provider", "State", "Today", "Total", "Window", "Last used"},
		rows, 3, 4, 5))
}

func quota(used, limit int64) string {
	if limit <= 0 {
		return strconv.FormatInt(used, 10)
	}
	return strconv.FormatInt(used, 10) + "/" + strconv.FormatInt(limit, 10)
}

func lastUsed(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Round(time.Second).String() + " ago"
}
