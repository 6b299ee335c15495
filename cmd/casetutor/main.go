package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/casetutor/casetutor/internal/caseimport"
	"github.com/casetutor/casetutor/internal/handler"
	appI18n "github.com/casetutor/casetutor/internal/i18n"
	"github.com/casetutor/casetutor/internal/model"
	"github.com/casetutor/casetutor/internal/oracle"
	"github.com/casetutor/casetutor/internal/storage"
	"github.com/casetutor/casetutor/internal/tutor"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "casetutor",
		Short: "Staged clinical case discussions scored by a language model",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `casetutor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP tutoring server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "casetutor.db", "Local SQLite database path")
	f.String("database-url", "", "Postgres DSN for the shared backend (empty = local only)")
	f.String("oracle-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("oracle-key", "ollama", "API key for the evaluation model")
	f.String("oracle-model", "llama3.2", "Evaluation model name")
	f.Duration("oracle-timeout", 60*time.Second, "Per-evaluation timeout")
	f.StringP("lang", "l", "en", "UI language (en, pt)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-email", "admin@casetutor.local", "Initial admin email")
	f.String("admin-password", "", "Initial admin password (or set CASETUTOR_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import case bank files (JSON or structured text)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "casetutor.db", "Local SQLite database path")
	f.String("database-url", "", "Postgres DSN for the shared backend (empty = local only)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export session results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "casetutor.db", "Local SQLite database path")
	f.String("database-url", "", "Postgres DSN for the shared backend (empty = local only)")
	f.String("course-id", "", "Course identifier for output (required)")
	f.String("subject", "", "Subject name for output (required)")
	f.String("date", "", "Date in YYYY-MM-DD format (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("course-id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CASETUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("casetutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/casetutor")
	v.AddConfigPath("/etc/casetutor")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore wires the local SQLite store and, when a DSN is configured, the
// shared Postgres backend. A missing or unreachable backend is not fatal: the
// adapter keeps the app usable on local storage alone.
func openStore(v *viper.Viper) (*storage.Adapter, *storage.LocalBackend, error) {
	local, err := storage.NewLocal(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open local database: %w", err)
	}

	var remote storage.Backend
	if dsn := v.GetString("database-url"); dsn != "" {
		r, err := storage.NewRemote(dsn)
		if err != nil {
			slog.Warn("shared backend unavailable, continuing with local storage", "error", err)
		} else {
			remote = r
			slog.Info("connected to shared backend")
		}
	}

	adapter, err := storage.NewAdapter(remote, local)
	if err != nil {
		local.Close()
		return nil, nil, fmt.Errorf("init storage adapter: %w", err)
	}
	return adapter, local, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	store, local, err := openStore(v)
	if err != nil {
		return err
	}
	defer local.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(store, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := local.CleanupExpiredSessions(); err != nil {
		slog.Warn("auth session cleanup failed", "error", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	oracleClient := oracle.New(
		v.GetString("oracle-url"),
		v.GetString("oracle-key"),
		v.GetString("oracle-model"),
		v.GetDuration("oracle-timeout"),
	)
	if err := oracleClient.Ping(context.Background()); err != nil {
		slog.Warn("oracle unavailable, submissions will fail until it recovers",
			"url", v.GetString("oracle-url"), "error", err)
	} else {
		slog.Info("oracle endpoint OK",
			"url", v.GetString("oracle-url"), "model", v.GetString("oracle-model"))
	}

	engine := tutor.New(store, oracleClient)

	h, err := handler.New(store, engine, oracleClient, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"oracle_model", v.GetString("oracle-model"),
		"oracle_url", v.GetString("oracle-url"),
		"lang", lang,
		"shared_backend", store.RemoteConfigured(),
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	store, local, err := openStore(v)
	if err != nil {
		return err
	}
	defer local.Close()

	ctx := context.Background()
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := local.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("case file unchanged, skipping", "path", path)
			continue
		}

		cases, err := caseimport.Parse(path, data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range cases {
			if _, err := store.SaveCase(ctx, c); err != nil {
				return fmt.Errorf("save case %q from %s: %w", c.Title, path, err)
			}
		}

		if err := local.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported cases", "path", path, "count", len(cases))
	}

	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	store, local, err := openStore(v)
	if err != nil {
		return err
	}
	defer local.Close()

	ctx := context.Background()
	export, err := buildExport(ctx, store, v.GetString("course-id"), v.GetString("subject"), v.GetString("date"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func buildExport(ctx context.Context, store *storage.Adapter, courseID, subject, date string) (model.ResultsExport, error) {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list users: %w", err)
	}
	cases, err := store.ListCases(ctx)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list cases: %w", err)
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list sessions: %w", err)
	}

	caseByID := make(map[string]model.ClinicalCase, len(cases))
	for _, c := range cases {
		caseByID[c.ID] = c
	}
	byStudent := make(map[string][]model.Session)
	for _, s := range sessions {
		byStudent[s.StudentID] = append(byStudent[s.StudentID], s)
	}

	export := model.ResultsExport{
		CourseID: courseID,
		Subject:  subject,
		Date:     date,
		NumCases: len(cases),
	}
	for _, u := range users {
		if u.Role != model.RoleStudent {
			continue
		}
		own := byStudent[u.ID]
		if len(own) == 0 {
			continue
		}
		result := model.StudentResult{
			Email:      u.Email,
			Name:       u.Name,
			ClassGroup: u.ClassGroup,
		}
		if grade := tutor.StudentGrade(own); grade != nil {
			result.Grade = *grade
		}
		for _, s := range own {
			c := caseByID[s.CaseID]
			result.Sessions = append(result.Sessions, model.SessionResult{
				CaseTitle:  c.Title,
				CaseTheme:  c.Theme,
				Difficulty: c.Difficulty,
				Status:     s.Status,
				TotalScore: s.TotalScore,
				StartedAt:  s.CreatedAt,
				FinishedAt: s.FinishedAt,
				Records:    s.Records,
			})
		}
		export.Results = append(export.Results, result)
		export.NumStudents++
	}
	return export, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(store *storage.Adapter, email, password string) error {
	users, err := store.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or CASETUTOR_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = store.CreateUser(context.Background(), model.User{
		Email:        email,
		Name:         "Administrator",
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "email", email)
	return nil
}
