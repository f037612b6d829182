package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"oncall/internal/agent"
	"oncall/internal/audit"
	"oncall/internal/clients/airflow"
	"oncall/internal/clients/databricks"
	"oncall/internal/clients/snowflake"
	"oncall/internal/config"
	"oncall/internal/correlate"
	"oncall/internal/db"
	"oncall/internal/domain"
	"oncall/internal/guardrail"
	"oncall/internal/intake"
	"oncall/internal/migrate"
	"oncall/internal/server"
	"oncall/internal/tickets"
	"oncall/internal/tokens"
)

var rootCmd = &cobra.Command{
	Use:   "oncall",
	Short: "Data engineering on-call agent",
	Long: `OnCall receives data pipeline failure reports, correlates repeated reports of
the same failure into one incident, and hands them to an LLM agent that
diagnoses the failure, retries transient ones within a per-target ceiling,
and escalates the rest as tickets. Every action lands in an append-only
audit trail under .oncall/oncall.db.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ONCALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(retriesCmd())
	rootCmd.AddCommand(usageCmd())
}

// env is the wired-up service; built once per command invocation.
type env struct {
	Config  *config.Config
	Store   *db.Store
	Trail   *audit.Trail
	Guard   *guardrail.Ledger
	Tokens  *tokens.Ledger
	Tickets *tickets.Store
	Intake  *intake.Service
	Close   func()
}

// buildEnv opens the store and wires the subsystem. withRunner additionally
// constructs the Gemini runner, which needs an LLM key.
func buildEnv(ctx context.Context, logger *zap.Logger, withRunner bool) (*env, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	store := db.NewStore(conn)
	trail := audit.New(store, cfg.Agent.Name, logger)
	guard := guardrail.New(store, logger)
	tok := tokens.New(store, logger)
	tick := tickets.New(store, cfg.Ticketing.DefaultQueue)

	var runner agent.Runner
	if withRunner {
		timeout := time.Duration(cfg.Tools["airflow"].TimeoutSeconds) * time.Second
		catalog := agent.NewCatalog(agent.Deps{
			Config:     cfg,
			Trail:      trail,
			Guard:      guard,
			Tickets:    tick,
			Airflow:    airflow.New(cfg.Airflow.URL, cfg.Airflow.Username, cfg.Airflow.Password, timeout),
			Databricks: databricks.New(),
			Snowflake:  snowflake.New(),
			Log:        logger,
		})
		runner, err = agent.NewGemini(ctx, cfg.LLMKey, cfg.Agent.Model, cfg.Agent.MaxTurns, catalog, tok, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &env{
		Config:  cfg,
		Store:   store,
		Trail:   trail,
		Guard:   guard,
		Tokens:  tok,
		Tickets: tick,
		Intake:  intake.New(trail, correlate.New(trail), runner, logger),
		Close:   func() { conn.Close() },
	}, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			e, err := buildEnv(cmd.Context(), logger, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if addr == "" {
				addr = e.Config.Server.Addr
			}
			if basePath == "" {
				basePath = e.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Intake:   e.Intake,
				Trail:    e.Trail,
				Guard:    e.Guard,
				Tokens:   e.Tokens,
				Tickets:  e.Tickets,
				BasePath: basePath,
				APIToken: e.Config.APIToken,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("oncall agent API starting",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.String("model", e.Config.Agent.Model))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			e.Intake.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var source, externalID, title, text string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze an incident from the terminal",
		Long:  "Runs the agent synchronously on a described incident. With --text it analyzes once and exits; otherwise it reads incident descriptions interactively.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()
			e, err := buildEnv(cmd.Context(), logger, true)
			if err != nil {
				return err
			}
			defer e.Close()

			run := func(desc string) error {
				report := domain.Report{
					SourceSystem: source,
					ExternalID:   externalID,
					Title:        title,
					Description:  desc,
				}
				if report.ExternalID == "" {
					report.ExternalID = "cli::" + strings.ToUpper(uuid.NewString()[:8])
				}
				acc, out, err := e.Intake.AnalyzeSync(cmd.Context(), report)
				if err != nil {
					return err
				}
				fmt.Printf("\nIncident %s (%s)\n\n%s\n", acc.IncidentID, correlationWord(acc.Created), out)
				return nil
			}

			if text != "" {
				return run(text)
			}
			fmt.Println("Data Engineering OnCall Agent - interactive mode")
			fmt.Println("Describe the incident below ('exit' to quit).")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("\n> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" || line == "q" {
					return nil
				}
				if err := run(line); err != nil {
					fmt.Println("error:", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "reporting system name")
	cmd.Flags().StringVar(&externalID, "external-id", "", "external incident id (defaults to a fresh one)")
	cmd.Flags().StringVar(&title, "title", "Manually reported incident", "incident title")
	cmd.Flags().StringVar(&text, "text", "", "incident description; analyze once and exit")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default oncall.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	var incidentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				var (
					events []domain.AuditEvent
					err    error
				)
				if incidentID != "" {
					events, err = e.Trail.ListByIncident(ctx, incidentID)
				} else {
					events, err = e.Trail.Tail(ctx, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Incident", "Action", "Status", "Details"})
				for _, evt := range events {
					details, _ := json.Marshal(evt.Details)
					tw.AppendRow(table.Row{evt.TS, evt.IncidentID, evt.ActionType, evt.Status, truncate(string(details), 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&incidentID, "incident", "", "filter by incident id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events when unfiltered")
	return cmd
}

func ticketCmd() *cobra.Command {
	tk := &cobra.Command{Use: "tickets", Short: "Inspect and update tickets"}
	tk.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				items, err := e.Tickets.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Title", "Status", "Priority", "Queue"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.TicketID, t.CreatedAt, truncate(t.Title, 40), t.Status, t.Priority, t.Queue})
				}
				tw.Render()
				return nil
			})
		},
	})
	tk.AddCommand(&cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				t, err := e.Tickets.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	})
	var status string
	update := &cobra.Command{
		Use:   "update <ticket-id>",
		Short: "Update a ticket's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				t, err := e.Tickets.UpdateStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	update.Flags().StringVar(&status, "status", "", "new status (OPEN, IN_PROGRESS, RESOLVED, CLOSED)")
	tk.AddCommand(update)
	return tk
}

func retriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retries <incident-id>",
		Short: "Show retry counters for an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				entries, err := e.Guard.Entries(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Target", "Retries", "Updated"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.TargetKey, entry.RetryCount, entry.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage <incident-id>",
		Short: "Show token usage for an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				usage, err := e.Tokens.ByIncident(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(usage)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Turn", "Model", "Prompt", "Completion", "Total", "TS"})
				for _, u := range usage {
					tw.AppendRow(table.Row{u.TurnIndex, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// withEnv wires the store-backed subsystem without the LLM runner; enough
// for every inspection command.
func withEnv(ctx context.Context, fn func(context.Context, *env) error) error {
	e, err := buildEnv(ctx, zap.NewNop(), false)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func correlationWord(created bool) string {
	if created {
		return "new incident"
	}
	return "correlated to existing incident"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
