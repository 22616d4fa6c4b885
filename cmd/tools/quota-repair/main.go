// Package main implements the quota-repair CLI for invoking quota
// maintenance operations directly against the database, bypassing the HTTP
// surface and its authentication.
//
// It is intended for local development, manual backfilling, and operational
// debugging.
//
// Usage:
//
//	go run ./cmd/tools/quota-repair --task=recalculate --user=jdupont
//	go run ./cmd/tools/quota-repair --task=migrate-user --user=jdupont
//	go run ./cmd/tools/quota-repair --task=migrate-all
//	go run ./cmd/tools/quota-repair --task=sweep-expired
//	go run ./cmd/tools/quota-repair --list
//
// The tool reads DATABASE_URL from environment variables (or a .env file via
// godotenv). Every run is attributed in the audit trail to a synthetic
// operator actor so repairs stay traceable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tahye23/servicessms-sub002/internal/catalog"
	"github.com/Tahye23/servicessms-sub002/internal/config"
	"github.com/Tahye23/servicessms-sub002/internal/db"
	"github.com/Tahye23/servicessms-sub002/internal/entitlement"
	"github.com/Tahye23/servicessms-sub002/internal/ledger"
	"github.com/Tahye23/servicessms-sub002/internal/migration"
	"github.com/Tahye23/servicessms-sub002/internal/quota"
	"github.com/Tahye23/servicessms-sub002/internal/scheduler"
	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// validTasks is the exhaustive set of repair operations this tool supports.
var validTasks = map[string]string{
	"view-quota":    "Print the per-subscription quota report for --user",
	"recalculate":   "Rebuild usage counters for --user from the send ledger",
	"migrate-user":  "Backfill ledger attribution for --user",
	"migrate-all":   "Backfill ledger attribution for every known user",
	"sweep-expired": "Mark past-end-date subscriptions expired",
}

// tasksRequiringUser lists tasks that target a single user login.
var tasksRequiringUser = map[string]bool{
	"view-quota":   true,
	"recalculate":  true,
	"migrate-user": true,
}

func main() {
	taskFlag := flag.String("task", "", "Repair task to execute (e.g., recalculate)")
	userFlag := flag.String("user", "", "Target user login (required for per-user tasks)")
	listFlag := flag.Bool("list", false, "List all available tasks and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quota-repair [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke quota maintenance operations directly, bypassing the API.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available tasks.\n")
	}
	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := validTasks[*taskFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}
	if tasksRequiringUser[*taskFlag] && *userFlag == "" {
		fmt.Fprintf(os.Stderr, "error: task %q requires --user\n", *taskFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load .env for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeTask(ctx, *taskFlag, *userFlag, logger)
	if err != nil {
		logger.Error("task execution failed", "task", *taskFlag, "error", err)
		os.Exit(1)
	}

	printResult(result)
	logger.Info("task execution succeeded", "task", *taskFlag)
}

// operatorActor attributes CLI repairs in the audit trail.
var operatorActor = types.Actor{
	Login: "quota-repair-cli",
	Role:  types.RoleAdmin,
}

// executeTask wires up the database and service dependencies, then invokes
// the requested operation directly. The wiring mirrors cmd/api/main.go minus
// the HTTP chassis.
func executeTask(ctx context.Context, task, userLogin string, logger *slog.Logger) (any, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	subscriptionRepo := db.NewSubscriptionRepo(pool, logger)
	auditRepo := db.NewAuditRepo(pool, logger)

	switch task {
	case "view-quota":
		return newQuotaService(pool, subscriptionRepo, auditRepo, cfg, logger).ViewQuota(ctx, userLogin)
	case "recalculate":
		return newQuotaService(pool, subscriptionRepo, auditRepo, cfg, logger).Recalculate(ctx, operatorActor, userLogin)
	case "migrate-user":
		svc := migration.NewService(db.NewMigrationRepo(pool), auditRepo, cfg.Quota, logger)
		return svc.MigrateUser(ctx, operatorActor, userLogin)
	case "migrate-all":
		svc := migration.NewService(db.NewMigrationRepo(pool), auditRepo, cfg.Quota, logger)
		return svc.MigrateAll(ctx, operatorActor)
	case "sweep-expired":
		sweeper := scheduler.NewExpirySweeper(subscriptionRepo, cfg.Quota, logger)
		swept, err := sweeper.RunOnce(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"subscriptions_expired": swept}, nil
	default:
		return nil, fmt.Errorf("unhandled task %q", task)
	}
}

func newQuotaService(pool db.DBTX, subs *db.SubscriptionRepo, audit *db.AuditRepo, cfg *config.Config, logger *slog.Logger) *quota.Service {
	plans := catalog.New(db.NewPlanRepo(pool))
	ledgerReader := ledger.NewReader(db.NewLedgerRepo(pool), logger)
	evaluator := entitlement.New(cfg.Quota.LowCreditsThreshold, cfg.Quota.NearLimitPercent)
	return quota.NewService(subs, ledgerReader, plans, audit, evaluator, cfg.Quota, logger)
}

func printAvailableTasks() {
	fmt.Println("Available tasks:")
	names := make([]string, 0, len(validTasks))
	for name := range validTasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s %s\n", name, validTasks[name])
	}
}

func printResult(result any) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", result)
		return
	}
	fmt.Println(string(data))
}
