package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"donorline/internal/app"
	"donorline/internal/config"
	"donorline/internal/db"
	"donorline/internal/engine"
	"donorline/internal/logging"
	"donorline/internal/migrate"
	"donorline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Donorline CLI",
	Long: `Donorline is a donor CRM with a live activity feed and a simulation engine.
Core concepts:
- Workspace: the .donorline directory holding the SQLite database and an optional .env file.
- Organization: the tenant owning donors, donations, activities and campaigns. Its config (roles, simulation defaults, webhooks) lives in the DB.
- Activity feed: every gift, call, meeting and task, newest first.
- Simulation: runs inside 'dl serve' and fabricates realistic donor activity; drive it with 'dl simulate'.
- Event log: audit trail of every change, view with 'dl log tail'.`,
	SilenceUsage: true,
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
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DONORLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// Values already in the environment win over the workspace .env file.
	if err := godotenv.Load(envPath(viper.GetString("workspace"))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: load .env:", err)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "organization id (defaults to the actor's only organization)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console or json)")
	for _, name := range []string{"workspace", "json", "actor-id", "org", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(donorCmd())
	rootCmd.AddCommand(donationCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"), viper.GetString("log-format"))
}

func openEngine() (engine.Engine, func(), error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	cleanup := func() {
		_ = logger.Sync()
		conn.Close()
	}
	return engine.New(conn, logger), cleanup, nil
}

// withEngine opens the workspace database and resolves the organization the
// command acts on.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	e, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()
	orgID, _, err := app.ResolveOrgAndConfig(ctx, e, viper.GetString("org"), viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	return fn(ctx, e, orgID)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	e, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, e.Repo)
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

func printConfig(cfg *config.Config) error {
	if viper.GetBool("json") {
		return printJSON(cfg)
	}
	b, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Print(string(b))
	return nil
}

func envPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".donorline", ".env")
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
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
