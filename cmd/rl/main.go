package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reviewline/internal/app"
	"reviewline/internal/db"
	"reviewline/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Reviewline CLI",
	Long: `Reviewline hands theme review work to reviewers without overlap.
- Queues: standard (new uploads), flagged (senior review) and rereview (updates to public themes).
- Leases: acquiring tops your queue up to a target; leases expire after the configured lock duration and are reclaimed by the next reviewer who asks.
- Commit: a batch of decisions on items you hold; all of them apply or none do.
- History: every decision is written to the audit log (rl history, rl logs).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REVIEWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("reviewer", "", "reviewer id (env REVIEWLINE_REVIEWER)")
	rootCmd.PersistentFlags().String("reviewer-email", "", "reviewer e-mail shown in moreinfo messages")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	for _, name := range []string{"workspace", "json", "reviewer", "reviewer-email", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(reasonsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(useCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Open(ctx, viper.GetString("workspace"), app.Options{LogLevel: viper.GetString("log-level")})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func currentReviewer() (domain.Reviewer, error) {
	id := strings.TrimSpace(viper.GetString("reviewer"))
	if id == "" {
		return domain.Reviewer{}, fmt.Errorf("reviewer not specified; use --reviewer or rl use <id>")
	}
	return domain.Reviewer{ID: id, Email: strings.TrimSpace(viper.GetString("reviewer-email"))}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printItems(items []domain.WorkItem) error {
	if viper.GetBool("json") {
		if items == nil {
			items = []domain.WorkItem{}
		}
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Status", "Queue", "Created"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.Name, it.OwnerID, it.Status, it.Category(), it.CreatedAt})
	}
	tw.Render()
	return nil
}

func printAudit(records []domain.AuditRecord) error {
	if viper.GetBool("json") {
		if records == nil {
			records = []domain.AuditRecord{}
		}
		return printJSON(records)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Action", "Actor", "Item", "Details"})
	for _, rec := range records {
		tw.AppendRow(table.Row{rec.ID, rec.TS, rec.Action, rec.ActorID, rec.ItemID, rec.Details})
	}
	tw.Render()
	return nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
