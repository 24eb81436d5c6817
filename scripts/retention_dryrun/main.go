// Command retention_dryrun reports how many rows each active retention policy
// would delete, without deleting anything. Intended for operators validating a
// new policy before enabling auto_delete.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	"github.com/vantage-crm/vantage-api/pkg/config"
	"github.com/vantage-crm/vantage-api/pkg/database"
)

type report struct {
	Table    string
	Eligible int64
	Skipped  string
	Err      error
}

func main() {
	var (
		table   string
		timeout time.Duration
	)
	flag.StringVar(&table, "table", "", "limit the dry run to one governed table")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	policyRepo := repository.NewRetentionPolicyRepository(db)
	cleanupRepo := repository.NewCleanupRepository(db)

	policies, err := policyRepo.ListActive(ctx)
	if err != nil {
		log.Fatalf("failed to load policies: %v", err)
	}

	var (
		reports []report
		total   int64
		failed  int
	)
	for _, policy := range policies {
		if table != "" && policy.TableName != table {
			continue
		}
		rep := inspect(ctx, cleanupRepo, policy)
		if rep.Err != nil {
			failed++
		}
		total += rep.Eligible
		reports = append(reports, rep)
	}

	printReport(reports, total)
	if failed > 0 {
		os.Exit(1)
	}
}

func inspect(ctx context.Context, repo *repository.CleanupRepository, policy models.RetentionPolicy) report {
	rep := report{Table: policy.TableName}

	if policy.RetentionDays == models.RetentionForever {
		rep.Skipped = "retention forever"
		return rep
	}
	meta, ok := repository.TableMetaFor(policy.TableName)
	if !ok {
		rep.Err = fmt.Errorf("unknown table")
		return rep
	}
	if meta.TimeColumn == "" {
		rep.Skipped = "no timestamp column"
		return rep
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
	count, err := repo.CountAgedRows(ctx, meta, cutoff, policy.Criteria)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Eligible = count
	return rep
}

func printReport(reports []report, total int64) {
	fmt.Println("Retention Dry Run")
	fmt.Println("=================")
	for _, rep := range reports {
		switch {
		case rep.Err != nil:
			fmt.Printf("[ERROR] %-28s %v\n", rep.Table, rep.Err)
		case rep.Skipped != "":
			fmt.Printf("[SKIP]  %-28s %s\n", rep.Table, rep.Skipped)
		default:
			fmt.Printf("[OK]    %-28s %d rows eligible\n", rep.Table, rep.Eligible)
		}
	}
	fmt.Printf("Total eligible rows: %d\n", total)
}
