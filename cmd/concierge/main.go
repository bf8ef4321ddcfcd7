// Command concierge is the household mail concierge's CLI surface:
// discover, digest, audit, dismiss, backfill, and migrate, adopted from
// the pack-sibling comms CLI's cobra command-tree shape since the
// teacher itself is server/worker-shaped and carries no CLI of its own.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/aliedrevenue/concierge/internal/category"
	"github.com/aliedrevenue/concierge/internal/config"
	"github.com/aliedrevenue/concierge/internal/digest"
	"github.com/aliedrevenue/concierge/internal/discovery"
	"github.com/aliedrevenue/concierge/internal/domain"
	"github.com/aliedrevenue/concierge/internal/itemtype"
	"github.com/aliedrevenue/concierge/internal/logger"
	"github.com/aliedrevenue/concierge/internal/mailsource"
	"github.com/aliedrevenue/concierge/internal/migrate"
	"github.com/aliedrevenue/concierge/internal/orchestrator"
	"github.com/aliedrevenue/concierge/internal/person"
	"github.com/aliedrevenue/concierge/internal/store"
)

// Exit codes per spec.md §6: 0 success, 1 configuration or migration
// error, 2 unrecoverable mail-source error, 3 store error, 64 invalid
// CLI usage.
const (
	exitOK              = 0
	exitConfigOrMigrate = 1
	exitMailSource      = 2
	exitStore           = 3
	exitUsage           = 64
)

var configPath string

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "concierge",
		Short: "Household mail concierge: discovery, digests, and reconciliation",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	exitCode := exitOK
	setExit := func(c int) { exitCode = c }

	root.AddCommand(discoverCmd(setExit))
	root.AddCommand(digestCmd(setExit))
	root.AddCommand(auditCmd(setExit))
	root.AddCommand(dismissCmd(setExit))
	root.AddCommand(backfillCmd(setExit))
	root.AddCommand(migrateCmd(setExit))

	if err := root.Execute(); err != nil {
		if exitCode == exitOK {
			exitCode = exitUsage
		}
	}
	return exitCode
}

func loadConfig() (*config.Config, error) {
	return config.LoadFromEnv(configPath)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.DSN, cfg.Store.MaxOpenConnsOrDefault(), cfg.Store.MaxIdleConns)
}

func buildGmailSource(ctx context.Context, cfg *config.Config) (mailsource.MailSource, error) {
	return mailsource.NewGmailSource(ctx, mailsource.GmailCredentials{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RedirectURI:  cfg.Gmail.RedirectURI,
		RefreshToken: cfg.Gmail.RefreshToken,
	})
}

func buildStageBClassifier(ctx context.Context, cfg *config.Config) (itemtype.Classifier, error) {
	if !cfg.Bedrock.Enabled {
		return nil, nil
	}
	return itemtype.NewBedrockClassifier(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
}

// engineFactory builds the shared orchestrator.EngineFactory from one
// mail source + classifier pair, reused by discover and backfill
// (cmd/server builds its own engines for the scheduler's agent run).
func engineFactory(mail mailsource.MailSource, st *store.Store, classifier itemtype.Classifier, cfg *config.Config, maxEmails int) orchestrator.EngineFactory {
	return func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
		return discovery.New(
			mail, st, category.DefaultRegistry, classifier, assigner,
			cfg.PersonAssignmentEnabled(),
			discovery.WithWorkers(cfg.Processing.WorkerPoolSizeOrDefault()),
			discovery.WithMaxEmailsPerRun(maxEmails),
			discovery.WithLookbackDays(cfg.Processing.LookbackDays),
		)
	}
}

func classifyExit(err error) int {
	var mailErr *mailsource.MailSourceError
	if errors.As(err, &mailErr) {
		return exitMailSource
	}
	var dataErr *store.DataIntegrityError
	if errors.As(err, &dataErr) {
		return exitStore
	}
	var cfgErr *config.ErrInvalidConfig
	if errors.As(err, &cfgErr) {
		return exitConfigOrMigrate
	}
	return exitStore
}

func discoverCmd(setExit func(int)) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <packId>",
		Short: "Run discovery for one pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			packID := args[0]
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig()
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}

			var pack *domain.Pack
			for i := range cfg.Packs {
				if cfg.Packs[i].PackID == packID {
					pack = &cfg.Packs[i]
					break
				}
			}
			if pack == nil {
				setExit(exitUsage)
				return fmt.Errorf("no such pack %q", packID)
			}

			st, err := openStore(cfg)
			if err != nil {
				setExit(exitStore)
				return err
			}
			defer st.Close()

			mail, err := buildGmailSource(ctx, cfg)
			if err != nil {
				setExit(exitMailSource)
				return err
			}
			classifier, err := buildStageBClassifier(ctx, cfg)
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}

			assigner := person.New(cfg.Family, cfg.SourceAssignments)
			engine := engineFactory(mail, st, classifier, cfg, cfg.Processing.MaxEmailsPerRunOrDefault())(*pack, assigner)

			summary, err := engine.Run(ctx, *pack)
			if err != nil {
				setExit(classifyExit(err))
				return err
			}

			fmt.Printf("pack %s: considered=%d processed=%d skipped=%d out_of_scope=%d errored=%d cancelled=%v\n",
				summary.PackID, summary.Considered, summary.Processed, summary.Skipped,
				summary.OutOfScope, summary.Errored, summary.Cancelled)
			return nil
		},
	}
}

func digestCmd(setExit func(int)) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Build a digest and print it to stdout (no email is sent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := loadConfig()
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}
			if mode != "daily" && mode != "reconciliation" {
				setExit(exitUsage)
				return fmt.Errorf("--mode must be daily or reconciliation")
			}

			st, err := openStore(cfg)
			if err != nil {
				setExit(exitStore)
				return err
			}
			defer st.Close()

			now := time.Now()
			start := now.Add(-24 * time.Hour)
			if mode == "reconciliation" {
				start = now.AddDate(0, 0, -7)
			}

			provider := digest.NewStoreProvider(st.DB())
			builder := digest.New(provider)

			d, err := builder.Build(ctx, start, now, cfg.AgentMode == config.AgentModeDryRun)
			if err != nil {
				setExit(exitStore)
				return err
			}

			renderDigest(d)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "daily", "digest mode: daily or reconciliation")
	return cmd
}

func renderDigest(d digest.Digest) {
	if d.DryRun {
		fmt.Print("[DRY RUN] ")
	}
	fmt.Printf("Digest %s – %s\n", d.StartDate.Format("Jan 2"), d.EndDate.Format("Jan 2"))
	if d.Quiet {
		fmt.Println("Quiet week — nothing new to report.")
	}
	for _, fact := range digest.LeadFacts(d) {
		fmt.Printf("  • %s\n", fact)
	}
	for _, sec := range d.Sections {
		if len(sec.Rows) == 0 {
			continue
		}
		fmt.Printf("\n%s\n", sec.Name)
		for _, row := range sec.Rows {
			line := fmt.Sprintf("  [%s %s] %s — %s", row.Icon, row.Group, row.Title, row.Fact)
			if row.ConfidenceVisible {
				line += fmt.Sprintf(" (%d%% confidence)", row.ConfidencePercent)
			}
			fmt.Println(line)
		}
	}
}

func auditCmd(setExit func(int)) *cobra.Command {
	var addDomainArgs []string
	var excludeKeyword string

	cmd := &cobra.Command{
		Use:   "audit <person>",
		Short: "Show or extend one family member's reconciliation view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			person := args[0]
			ctx := context.Background()

			cfg, err := loadConfig()
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				setExit(exitStore)
				return err
			}
			defer st.Close()

			switch {
			case len(addDomainArgs) > 0:
				return runAuditAddDomain(ctx, st, cfg, person, addDomainArgs, setExit)
			case excludeKeyword != "":
				return runAuditExcludeKeyword(cfg, person, excludeKeyword, setExit)
			default:
				return runAuditShow(ctx, st, person, cfg, setExit)
			}
		},
	}
	cmd.Flags().StringSliceVar(&addDomainArgs, "add-domain", nil, "domain category — append a forward-only source assignment")
	cmd.Flags().StringVar(&excludeKeyword, "exclude-keyword", "", "append a forward-only PersonAssigner exclusion")
	return cmd
}

func runAuditShow(ctx context.Context, st *store.Store, personName string, cfg *config.Config, setExit func(int)) error {
	since := time.Now().AddDate(0, 0, -30)
	var rows []struct {
		Subject string `db:"subject"`
		Created string `db:"created_at"`
	}
	err := st.DB().SelectContext(ctx, &rows, `
		SELECT subject, created_at::text FROM items
		WHERE created_at >= $1 AND (person = $2 OR person LIKE $3 OR person LIKE $4 OR person LIKE $5)
		ORDER BY created_at DESC
	`, since, personName, personName+", %", "%, "+personName, "%, "+personName+", %")
	if err != nil {
		setExit(exitStore)
		return err
	}

	fmt.Printf("Reconciliation view for %s (last 30 days, %d items)\n", personName, len(rows))
	for _, r := range rows {
		fmt.Printf("  %s  %s\n", r.Created, r.Subject)
	}

	var dismissed []struct {
		OriginalFrom string `db:"original_from"`
		Count        int    `db:"count"`
	}
	_ = st.DB().SelectContext(ctx, &dismissed, `
		SELECT original_from, COUNT(*) AS count FROM dismissed_items
		WHERE dismissed_at >= $1 AND (person = $2 OR person LIKE $3 OR person LIKE $4 OR person LIKE $5)
		GROUP BY original_from HAVING COUNT(*) >= 2
		ORDER BY count DESC
	`, since, personName, personName+", %", "%, "+personName, "%, "+personName+", %")
	if len(dismissed) > 0 {
		fmt.Println("\nSuggestions (repeated dismissals — no config change made automatically):")
		for _, d := range dismissed {
			fmt.Printf("  %s dismissed %d times — consider `audit %s --exclude-keyword <term>`\n", d.OriginalFrom, d.Count, personName)
		}
	}
	return nil
}

func runAuditAddDomain(ctx context.Context, st *store.Store, cfg *config.Config, personName string, args []string, setExit func(int)) error {
	if len(args) != 2 {
		setExit(exitUsage)
		return fmt.Errorf("--add-domain requires <domain> <category>")
	}
	domainArg, categoryArg := args[0], args[1]
	if _, err := url.Parse("https://" + domainArg); err != nil || domainArg == "" {
		setExit(exitUsage)
		return fmt.Errorf("invalid domain %q", domainArg)
	}

	var matchCount int
	err := st.DB().GetContext(ctx, &matchCount, `
		SELECT COUNT(*) FROM items
		WHERE from_email LIKE $1 AND created_at >= $2
	`, "%@"+domainArg, time.Now().AddDate(0, 0, -cfg.Processing.LookbackDays))
	if err != nil {
		setExit(exitStore)
		return err
	}

	cfg.SourceAssignments = append(cfg.SourceAssignments, domain.SourceAssignment{
		FromDomain: domainArg,
		AssignTo:   []string{personName},
	})
	if err := config.Save(cfg, configPath); err != nil {
		setExit(exitConfigOrMigrate)
		return err
	}

	fmt.Printf("Added source assignment %s -> %s (category %s noted; forward-only, no retroactive writes)\n", domainArg, personName, categoryArg)
	fmt.Printf("%d in-window message(s) from %s would now match %s on future runs\n", matchCount, domainArg, personName)
	return nil
}

func runAuditExcludeKeyword(cfg *config.Config, personName, keyword string, setExit func(int)) error {
	found := false
	for i := range cfg.Family {
		if cfg.Family[i].Name == personName {
			cfg.Family[i].ExcludeKeywords = append(cfg.Family[i].ExcludeKeywords, keyword)
			found = true
			break
		}
	}
	if !found {
		setExit(exitUsage)
		return fmt.Errorf("no family member named %q", personName)
	}
	if err := config.Save(cfg, configPath); err != nil {
		setExit(exitConfigOrMigrate)
		return err
	}
	fmt.Printf("Added exclusion keyword %q for %s — forward-only, future messages only\n", keyword, personName)
	return nil
}

func dismissCmd(setExit func(int)) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <itemId> <reason>",
		Short: "Record a dismissal for one item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, reason := args[0], strings.TrimSpace(args[1])
			if reason == "" {
				setExit(exitUsage)
				return fmt.Errorf("reason must not be empty")
			}
			ctx := context.Background()

			cfg, err := loadConfig()
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				setExit(exitStore)
				return err
			}
			defer st.Close()

			item, err := store.GetItemByID(ctx, st.DB(), itemID)
			if err != nil {
				setExit(exitStore)
				return err
			}

			d := &domain.DismissedItem{
				ID:              uuid.New(),
				ItemID:          item.ID,
				ItemType:        item.ItemType,
				Reason:          reason,
				DismissedAt:     time.Now(),
				DismissedBy:     "cli",
				OriginalSubject: item.Subject,
				OriginalFrom:    item.FromEmail,
				OriginalDate:    item.CreatedAt,
				Person:          item.Person,
				PackID:          item.PackID,
			}
			if err := store.DismissItem(ctx, st.DB(), d); err != nil {
				setExit(exitStore)
				return err
			}
			fmt.Printf("dismissed %s: %s\n", itemID, reason)
			return nil
		},
	}
}

const backfillMaxEvents = 100

func backfillCmd(setExit func(int)) *cobra.Command {
	var from, to string
	var dryRun, confirm bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Historical scan over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				setExit(exitUsage)
				return fmt.Errorf("--from and --to are required")
			}
			fromDate, err := time.Parse("2006-01-02", from)
			if err != nil {
				setExit(exitUsage)
				return fmt.Errorf("invalid --from date: %w", err)
			}
			if _, err := time.Parse("2006-01-02", to); err != nil {
				setExit(exitUsage)
				return fmt.Errorf("invalid --to date: %w", err)
			}
			if !dryRun && !confirm {
				setExit(exitUsage)
				return fmt.Errorf("a non-dry-run backfill requires --confirm")
			}

			ctx := context.Background()
			cfg, err := loadConfig()
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				setExit(exitStore)
				return err
			}
			defer st.Close()

			mail, err := buildGmailSource(ctx, cfg)
			if err != nil {
				setExit(exitMailSource)
				return err
			}
			classifier, err := buildStageBClassifier(ctx, cfg)
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}

			assigner := person.New(cfg.Family, cfg.SourceAssignments)
			lookbackDays := int(time.Since(fromDate).Hours()/24) + 1
			if lookbackDays < 1 {
				lookbackDays = 1
			}
			backfillCfg := *cfg
			backfillCfg.Processing.LookbackDays = lookbackDays

			total := 0
			for _, pack := range cfg.Packs {
				if dryRun {
					fmt.Printf("[dry-run] would backfill pack %s from %s to %s\n", pack.PackID, from, to)
					continue
				}
				if total >= backfillMaxEvents {
					fmt.Printf("reached the %d-event backfill cap; stopping\n", backfillMaxEvents)
					break
				}
				remaining := backfillMaxEvents - total
				factory := engineFactory(mail, st, classifier, &backfillCfg, remaining)
				engine := factory(pack, assigner)

				summary, err := engine.Run(ctx, pack)
				if err != nil {
					setExit(classifyExit(err))
					return err
				}
				total += summary.Processed
				fmt.Printf("pack %s: processed=%d (running total %d/%d)\n", pack.PackID, summary.Processed, total, backfillMaxEvents)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD); validated and echoed only, the scan covers --from up to now")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the packs that would be backfilled, without scanning or writing")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "required to actually execute a non-dry-run backfill")
	return cmd
}

func migrateCmd(setExit func(int)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [version|rollback <v>]",
		Short: "Apply or inspect schema migrations",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" && err == nil {
				dsn = cfg.Store.DSN
			}
			if dsn == "" {
				setExit(exitConfigOrMigrate)
				return fmt.Errorf("DATABASE_URL is required")
			}

			db, err := sql.Open("postgres", dsn)
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}
			defer db.Close()

			migrations, err := migrate.Load("migrations")
			if err != nil {
				setExit(exitConfigOrMigrate)
				return err
			}

			switch {
			case len(args) == 0:
				ran, err := migrate.Up(db, migrations)
				if err != nil {
					setExit(exitConfigOrMigrate)
					return err
				}
				fmt.Printf("%d migration(s) applied\n", ran)
				return nil
			case args[0] == "version":
				v, err := migrate.Version(db)
				if err != nil {
					setExit(exitConfigOrMigrate)
					return err
				}
				fmt.Println(v)
				return nil
			case args[0] == "rollback":
				if len(args) != 2 {
					setExit(exitUsage)
					return fmt.Errorf("usage: migrate rollback <version>")
				}
				var target int
				if _, err := fmt.Sscanf(args[1], "%d", &target); err != nil {
					setExit(exitUsage)
					return fmt.Errorf("invalid version %q", args[1])
				}
				if err := migrate.Rollback(db, migrations, target); err != nil {
					setExit(exitConfigOrMigrate)
					return err
				}
				fmt.Printf("rolled back to version %d\n", target)
				return nil
			default:
				setExit(exitUsage)
				return fmt.Errorf("usage: migrate [version|rollback <v>]")
			}
		},
	}
	return cmd
}

func init() {
	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE"))
}
