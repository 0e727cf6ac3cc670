package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"storecast/internal/app"
	"storecast/internal/config"
	"storecast/internal/credential"
	"storecast/internal/journal"
	"storecast/internal/server"
	storecastsdk "storecast/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "storecast",
	Short: "Storecast CLI",
	Long: `Storecast sends announcements with optional task lists to retail stores.
- Verify: resolve store ids to directory accounts before sending.
- Create: open a restricted channel for the stores, post the announcement and copy the tasks into each store's project.
- Items: list what was sent, newest first, filtered by department, status or title.
- Serve: run the HTTP API the other commands talk to (OpenAPI at /api/openapi.json, Swagger UI at /docs).
The platform token comes from STORECAST_PLATFORM_TOKEN, storecast.yml or the system keyring (storecast credential set).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STORECAST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/storecast.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "storecast API URL used by client commands")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	for _, name := range []string{"workspace", "config", "json", "server", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(itemsCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			slog.SetDefault(logger)
			a, err := app.Build(cmd.Context(), appOptions(logger))
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			handler, err := server.New(server.Config{
				Engine:         a.Engine,
				Logger:         logger,
				MaxUploadBytes: int64(a.Config.Server.MaxUploadMB) << 20,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving storecast API",
				"event", "server_started",
				"module", "cmd",
				"addr", addr,
				"space_id", a.Config.Platform.SpaceID,
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("server stopped", "event", "server_stopped", "module", "cmd")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr from config)")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <store-id>...",
		Short: "Resolve store ids to directory accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Verify(cmd.Context(), args)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Store", "Account", "Name"})
			for _, u := range res.FoundUsers {
				tw.AppendRow(table.Row{u.StoreID, u.AccountID, u.DisplayName})
			}
			tw.Render()
			if len(res.NotFoundIDs) > 0 {
				fmt.Printf("not found: %s\n", strings.Join(res.NotFoundIDs, ", "))
			}
			if !res.DirectoryComplete {
				fmt.Println("warning: directory scan stopped early; results may be incomplete")
			}
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	var title, department, taskFile, profileFile string
	var stores []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a distribution for a set of stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := storecastsdk.CreateInput{
				StoreIDs:   stores,
				Title:      title,
				Department: department,
			}
			if taskFile != "" {
				data, err := os.ReadFile(taskFile)
				if err != nil {
					return err
				}
				in.TaskCSV = data
			}
			if profileFile != "" {
				data, err := os.ReadFile(profileFile)
				if err != nil {
					return err
				}
				in.ProfileCSV = data
				in.ProfileFilename = filepath.Base(profileFile)
			}
			res, err := client().Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("created %s (post %s) for %d stores\n", res.ChannelID, res.PostID, res.Targets)
			if res.TaskCount > 0 {
				fmt.Printf("tasks: %d/%d confirmed across %d projects\n", res.TasksConfirmed, res.TaskCount, res.MatchedProjects)
			}
			for _, f := range res.FailedProjects {
				fmt.Printf("failed: store %s project %s: %s\n", f.StoreID, f.ProjectID, f.Reason)
			}
			if len(res.Unresolved) > 0 {
				fmt.Printf("not found: %s\n", strings.Join(res.Unresolved, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "announcement title")
	cmd.Flags().StringVar(&department, "department", "", "department label")
	cmd.Flags().StringSliceVar(&stores, "stores", nil, "store ids (comma separated)")
	cmd.Flags().StringVar(&taskFile, "tasks", "", "semicolon separated task file")
	cmd.Flags().StringVar(&profileFile, "profiles", "", "profile CSV to import before sending")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("stores")
	return cmd
}

func itemsCmd() *cobra.Command {
	var f storecastsdk.ItemsFilter
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List distributions",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Items(cmd.Context(), f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if res.Degraded {
				fmt.Println("warning:", res.Warning)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Department", "Stores", "Status", "Created"})
			for _, d := range res.Items {
				tw.AppendRow(table.Row{d.ID, d.Title, d.Department, d.TargetCount, d.Status, d.CreatedAt.Local().Format("2006-01-02 15:04")})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Department, "department", "", "department filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter: draft, scheduled, published")
	cmd.Flags().StringVar(&f.Query, "q", "", "title search")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a distribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"success": true})
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}

func journalCmd() *cobra.Command {
	j := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the local operation journal",
	}
	j.AddCommand(journalTailCmd())
	return j
}

func journalTailCmd() *cobra.Command {
	var n int
	var operationID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions(newLogger())
			cfg, err := app.LoadConfig(opts)
			if err != nil {
				return err
			}
			path := cfg.JournalPath(opts.Workspace)
			if path == "" {
				return fmt.Errorf("journal disabled in config")
			}
			jr, err := journal.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer jr.Close()
			var entries []journal.Entry
			if operationID != "" {
				entries, err = jr.ForOperation(cmd.Context(), operationID)
			} else {
				entries, err = jr.Latest(cmd.Context(), n)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				out := make([]map[string]any, 0, len(entries))
				for _, e := range entries {
					out = append(out, map[string]any{
						"id":              e.ID,
						"ts":              e.TS,
						"type":            e.Type,
						"operation_id":    e.OperationID.String,
						"distribution_id": e.DistributionID.String,
						"payload":         e.Payload(),
					})
				}
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Time", "Type", "Operation", "Distribution"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.OperationID.String, e.DistributionID.String})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&operationID, "operation", "", "show every entry of one operation")
	return cmd
}

func credentialCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "credential",
		Short: "Manage the platform token in the system keyring",
	}
	c.AddCommand(&cobra.Command{
		Use:   "set [token]",
		Short: "Store the platform token (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("token is empty")
			}
			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Set(credential.PlatformTokenKey, token); err != nil {
				return err
			}
			fmt.Println("token stored")
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored platform token",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Delete(credential.PlatformTokenKey); err != nil && !errors.Is(err, credential.ErrNotFound) {
				return err
			}
			fmt.Println("token removed")
			return nil
		},
	})
	return c
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage storecast.yml",
		Long:  "storecast.yml holds the platform tenant (base URL, space, locales), retry and paging tuning, the journal path and the API listen address.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var baseURL, spaceID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default storecast.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(baseURL, spaceID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "platform base URL")
	cmd.Flags().StringVar(&spaceID, "space-id", "", "space that owns new channels")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	_ = cmd.MarkFlagRequired("base-url")
	_ = cmd.MarkFlagRequired("space-id")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(appOptions(nil))
			if err != nil {
				return err
			}
			if cfg.Platform.Token != "" {
				cfg.Platform.Token = "********"
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(appOptions(nil))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func appOptions(logger *slog.Logger) app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Token:      viper.GetString("platform-token"),
		Logger:     logger,
	}
}

func client() *storecastsdk.Client {
	return storecastsdk.New(viper.GetString("server"))
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log-format"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
