package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mt5-trader/internal/api"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/session"
	"mt5-trader/pkg/config"
	"mt5-trader/pkg/db"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset the persisted session counters",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted session counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSession()
		if err != nil {
			return err
		}
		st := store.Snapshot()
		fmt.Printf("file:           %s\n", store.Path())
		fmt.Printf("last trade:     %s\n", st.LastTradeDate)
		fmt.Printf("daily trades:   %d\n", st.DailyTrades)
		fmt.Printf("total trades:   %d\n", st.TotalTrades)
		fmt.Printf("daily pnl:      %.2f\n", st.DailyPnL)
		fmt.Printf("margin status:  %s\n", st.MarginStatus)
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the daily trade count and P&L",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSession()
		if err != nil {
			return err
		}
		if err := store.Reset(); err != nil {
			return err
		}
		fmt.Printf("✓ session counters reset (%s)\n", store.Path())
		return nil
	},
}

func openSession() (*session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return session.Open(cfg.SessionFile)
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the journal database has every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Verifying database at: %s\n", cfg.DBPath)
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		missing, err := db.MissingTables(database)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			for _, name := range missing {
				fmt.Printf("❌ %s table MISSING\n", name)
			}
			return fmt.Errorf("%d tables missing; run the bot once or `db migrate`", len(missing))
		}
		fmt.Println("✓ all tables present")
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the journal tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			return err
		}
		fmt.Printf("✓ migrations applied (%s)\n", cfg.DBPath)
		return nil
	},
}

var profilesFile string

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the risk modes and their limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := risk.LoadProfiles(profilesFile)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tRISK/TRADE%\tMAX POS\tDAILY LOSS%\tMAX DD%\tSL xATR\tTP xATR\tTRAILING")
		for _, m := range profiles.Modes() {
			l := profiles[m]
			trailing := "off"
			if l.TrailingStop {
				trailing = fmt.Sprintf("%.1f xATR", l.TrailingATRMult)
			}
			fmt.Fprintf(w, "%s\t%.2f\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%s\n", m,
				l.RiskPerTradePercent, l.MaxConcurrentPositions, l.MaxDailyLossPercent,
				l.MaxDrawdownPercent, l.StopLossATRMult, l.TakeProfitATRMult, trailing)
		}
		return w.Flush()
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token for the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := api.GenerateAdminToken(tokenSubject, cfg.AdminJWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionResetCmd)
	dbCmd.AddCommand(dbVerifyCmd, dbMigrateCmd)
	profilesCmd.Flags().StringVar(&profilesFile, "file", os.Getenv("RISK_PROFILES_FILE"), "YAML profile table (built-in table when empty)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "operator name recorded as the token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
