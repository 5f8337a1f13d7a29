package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reviewline/internal/app"
	"reviewline/internal/config"
	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/migrate"
	"reviewline/internal/notify"
	"reviewline/internal/server"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create reviewline.yml and migrate the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("Wrote", path)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := migrate.Version(ctx, rt.Engine.DB)
				if err != nil {
					return err
				}
				fmt.Printf("Workspace ready (schema version %d)\n", v)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect reviewline.yml"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println("OK", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.GenerateDefault())
		},
	})
	return c
}

func itemCmd() *cobra.Command {
	c := &cobra.Command{Use: "item", Short: "Submit and inspect themes"}
	c.AddCommand(itemSubmitCmd())
	c.AddCommand(itemRestageCmd())
	c.AddCommand(itemDeleteCmd())
	c.AddCommand(itemShowCmd())
	c.AddCommand(itemListCmd())
	c.AddCommand(itemDeletedCmd())
	c.AddCommand(itemHistoryCmd())
	return c
}

func itemSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a theme for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("reviewer")
			if opts.OwnerID == "" {
				opts.OwnerID = opts.ActorID
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				it, err := rt.Engine.Submit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "theme name")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id (defaults to --reviewer)")
	cmd.Flags().StringVar(&opts.OwnerEmail, "owner-email", "", "owner e-mail")
	cmd.Flags().StringVar(&opts.Header, "header", "", "header image key")
	cmd.Flags().StringVar(&opts.Footer, "footer", "", "footer image key")
	return cmd
}

func itemRestageCmd() *cobra.Command {
	var header, footer string
	cmd := &cobra.Command{
		Use:   "restage <item-id>",
		Short: "Stage replacement content on a public theme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				it, err := rt.Engine.Restage(ctx, args[0], header, footer, viper.GetString("reviewer"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&header, "header", "", "staged header image key")
	cmd.Flags().StringVar(&footer, "footer", "", "staged footer image key")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Mark a theme deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				it, err := rt.Engine.Delete(ctx, args[0], viper.GetString("reviewer"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a theme and whether you may review it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := rt.Engine.Single(ctx, viper.GetString("reviewer"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func itemListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every theme eligible for a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListQueue(ctx, domain.Category(category))
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "standard", "standard, flagged or rereview")
	return cmd
}

func itemDeletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deleted",
		Short: "List deleted themes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListDeleted(ctx)
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
}

func itemHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <item-id>",
		Short: "Audit trail of one theme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				records, err := rt.Engine.ItemHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printAudit(records)
			})
		},
	}
}

func queueCmd() *cobra.Command {
	c := &cobra.Command{Use: "queue", Short: "Acquire and release review leases"}
	c.AddCommand(queueAcquireCmd())
	c.AddCommand(queueHeldCmd())
	c.AddCommand(queueReleaseCmd())
	c.AddCommand(queueLeasesCmd())
	return c
}

func queueAcquireCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "acquire [category]",
		Short: "Top up your queue and refresh the leases you hold",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, err := currentReviewer()
			if err != nil {
				return err
			}
			category := categoryArg(args)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.AcquireBatch(ctx, reviewer.ID, category, target)
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "queue size (defaults to review.initial_locks)")
	return cmd
}

func queueHeldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "held [category]",
		Short: "Items you hold, without refreshing leases",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, err := currentReviewer()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.HeldItems(ctx, reviewer.ID, categoryArg(args))
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
}

func queueReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release [category|all]",
		Short: "Give back your leases",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, err := currentReviewer()
			if err != nil {
				return err
			}
			var category domain.Category
			if len(args) == 1 && args[0] != "all" {
				category = domain.Category(args[0])
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Engine.Release(ctx, reviewer.ID, category)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"released": n})
				}
				fmt.Printf("Released %d lease(s)\n", n)
				return nil
			})
		},
	}
}

func queueLeasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leases",
		Short: "List every lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				leases, err := rt.Engine.Leases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if leases == nil {
						leases = []domain.Lease{}
					}
					return printJSON(leases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Reviewer", "Queue", "Acquired", "Expires"})
				for _, l := range leases {
					tw.AppendRow(table.Row{l.ItemID, l.ReviewerID, l.Category, l.AcquiredAt, l.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func categoryArg(args []string) domain.Category {
	if len(args) == 0 {
		return domain.CategoryStandard
	}
	return domain.Category(args[0])
}

func commitCmd() *cobra.Command {
	var file string
	var decisions []string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Apply a batch of review decisions",
		Long: `Apply review decisions on items you hold. Decisions come from a JSON file
(--file, "-" for stdin) holding [{"item_id":..,"action":"approve","reject_reason":..,"comment":..}]
or from repeated --decision ITEM:ACTION[:REASON] flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, err := currentReviewer()
			if err != nil {
				return err
			}
			batch, err := loadDecisions(file, decisions, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Commit(ctx, reviewer, batch)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Action", "Queue", "From", "To"})
				for _, a := range res.Applied {
					tw.AppendRow(table.Row{a.ItemID, a.Action, a.Category, a.FromStatus, a.ToStatus})
				}
				tw.Render()
				for _, w := range res.Warnings {
					fmt.Fprintln(os.Stderr, "warning:", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file of decisions")
	cmd.Flags().StringArrayVar(&decisions, "decision", nil, "ITEM:ACTION[:REASON] (repeatable)")
	return cmd
}

func loadDecisions(file string, flags []string, stdin io.Reader) ([]domain.Decision, error) {
	var out []domain.Decision
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode decisions: %w", err)
		}
	}
	for _, raw := range flags {
		d, err := parseDecisionFlag(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no decisions given; use --file or --decision")
	}
	return out, nil
}

func parseDecisionFlag(raw string) (domain.Decision, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 {
		return domain.Decision{}, fmt.Errorf("decision %q: want ITEM:ACTION[:REASON]", raw)
	}
	action, err := domain.ParseAction(parts[1])
	if err != nil {
		return domain.Decision{}, err
	}
	d := domain.Decision{ItemID: parts[0], Action: action}
	if len(parts) == 3 {
		code, err := strconv.Atoi(parts[2])
		if err != nil {
			return domain.Decision{}, fmt.Errorf("decision %q: reason must be a number", raw)
		}
		d.RejectReason = code
	}
	return d, nil
}

func historyCmd() *cobra.Command {
	var limit int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Your review decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, err := currentReviewer()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				records, err := rt.Engine.History(ctx, reviewer.ID, limit, cursor)
				if err != nil {
					return err
				}
				return printAudit(records)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "return records older than this id")
	return cmd
}

func logsCmd() *cobra.Command {
	var limit int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Every review decision, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				records, err := rt.Engine.Logs(ctx, limit, cursor)
				if err != nil {
					return err
				}
				return printAudit(records)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "return records older than this id")
	return cmd
}

func reasonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reasons",
		Short: "List rejection reasons",
		RunE: func(cmd *cobra.Command, args []string) error {
			reasons := domain.RejectReasons()
			if viper.GetBool("json") {
				return printJSON(reasons)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Code", "Reason"})
			for _, r := range reasons {
				tw.AppendRow(table.Row{r.Code, r.Text})
			}
			tw.Render()
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Theme counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				keys := make([]string, 0, len(counts))
				for k := range counts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k, counts[k]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <reviewer-id>",
		Short: "Set the default reviewer in the workspace .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, "REVIEWLINE_REVIEWER", args[0]); err != nil {
				return err
			}
			fmt.Printf("Reviewer set to %s in %s\n", args[0], path)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var email string
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an API bearer token (needs REVIEWLINE_JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("REVIEWLINE_JWT_SECRET is required")
			}
			tok, err := server.SignToken(secret, args[0], email, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "reviewer e-mail claim")
	cmd.Flags().StringSliceVar(&perms, "perm", []string{server.PermReview}, "permissions to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func outboxCmd() *cobra.Command {
	c := &cobra.Command{Use: "outbox", Short: "Inspect and deliver the redis notification outbox"}
	c.AddCommand(&cobra.Command{
		Use:   "len",
		Short: "Queued notification count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(func(cfg *config.Config, r *notify.Redis) error {
				n, err := r.Len(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	})
	var max int
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Send queued notifications through SMTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(func(cfg *config.Config, r *notify.Redis) error {
				if cfg.Notify.SMTP.Host == "" {
					return fmt.Errorf("notify.smtp.host is required to drain the outbox")
				}
				n, err := notify.Drain(cmd.Context(), r, notify.SMTPFromConfig(cfg.Notify), max)
				fmt.Printf("Sent %d notification(s)\n", n)
				return err
			})
		},
	}
	drain.Flags().IntVar(&max, "max", 0, "stop after this many (0 drains all)")
	c.AddCommand(drain)
	return c
}

func withOutbox(fn func(*config.Config, *notify.Redis) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	if cfg.Notify.Redis.Addr == "" {
		return fmt.Errorf("notify.redis.addr is not configured")
	}
	r, closeRedis := notify.RedisFromConfig(cfg.Notify)
	defer closeRedis()
	return fn(cfg, r)
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys for non-interactive reviewers"}

	var email, name string
	var perms []string
	create := &cobra.Command{
		Use:   "create <reviewer-id>",
		Short: "Issue a key; the secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				key, secret, err := rt.Engine.CreateAPIKey(ctx, args[0], email, name, perms, viper.GetString("reviewer"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("Key %s for %s\nSecret (shown once): %s\n", key.ID, key.ReviewerID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "reviewer e-mail shown in moreinfo messages")
	create.Flags().StringVar(&name, "name", "", "label for the key")
	create.Flags().StringSliceVar(&perms, "perm", []string{server.PermReview}, "permissions to grant")
	c.AddCommand(create)

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Engine.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if keys == nil {
						keys = []domain.APIKey{}
					}
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Reviewer", "Name", "Permissions", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ReviewerID, k.Name, strings.Join(k.Permissions, ","), k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only keys acting as this reviewer")
	c.AddCommand(list)

	c.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				key, err := rt.Engine.RevokeAPIKey(ctx, args[0], viper.GetString("reviewer"))
				if err != nil {
					return err
				}
				fmt.Printf("Revoked %s (%s)\n", key.ID, key.ReviewerID)
				return nil
			})
		},
	})
	return c
}
