package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/app"
	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// accountRecord is the on-disk form read by "accounts add --file". Cookies
// are never serialised on crawler.Account, so they get their own field here.
type accountRecord struct {
	ID       string `json:"id"`
	Cookies  string `json:"cookies"`
	Nickname string `json:"nickname"`
	Status   string `json:"status"`
}

func (r accountRecord) account() (crawler.Account, error) {
	if r.ID == "" {
		return crawler.Account{}, fmt.Errorf("account id is required")
	}
	if r.Cookies == "" {
		return crawler.Account{}, fmt.Errorf("account %s: cookies are required", r.ID)
	}
	status := crawler.AccountStatus(r.Status)
	switch status {
	case "":
		status = crawler.AccountActive
	case crawler.AccountActive, crawler.AccountInactive, crawler.AccountBanned:
	default:
		return crawler.Account{}, fmt.Errorf("account %s: unknown status %q", r.ID, r.Status)
	}
	return crawler.Account{ID: r.ID, Cookies: r.Cookies, Nickname: r.Nickname, Status: status}, nil
}

func (c *cli) newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage crawl credentials and the health-scored rotation pool.",
	}
	cmd.AddCommand(c.newAccountsSeedCmd())
	cmd.AddCommand(c.newAccountsListCmd())
	cmd.AddCommand(c.newAccountsAddCmd())
	return cmd
}

// withApp builds the services without touching the pool and closes them
// after fn returns.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := c.newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer c.closeApp(a)
	return fn(a)
}

func (c *cli) newAccountsSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Reset the pool: every active account goes back in at the initial score.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.InitializePool(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts\n", n)
				return nil
			})
		},
	}
}

func (c *cli) newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show active accounts and their current health scores.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				active, err := a.Accounts.ListActive(ctx)
				if err != nil {
					return fmt.Errorf("list accounts: %w", err)
				}
				entries, err := a.Pool.Scores(ctx)
				if err != nil {
					return err
				}
				scores := make(map[string]float64, len(entries))
				for _, e := range entries {
					scores[e.ID] = e.Score
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNICKNAME\tSTATUS\tSCORE")
				for _, acc := range active {
					score := "-"
					if s, ok := scores[acc.ID]; ok {
						score = fmt.Sprintf("%.1f", s)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", acc.ID, acc.Nickname, acc.Status, score)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) newAccountsAddCmd() *cobra.Command {
	var (
		record accountRecord
		file   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update credentials in the durable account store.",
		Example: `  search-crawler accounts add --id 1001 --cookies "SUB=...; SUBP=..." --nickname main
  search-crawler accounts add --file accounts.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records := []accountRecord{record}
			if file != "" {
				var err error
				if records, err = readAccountFile(file); err != nil {
					return err
				}
			}
			accounts := make([]crawler.Account, 0, len(records))
			for _, r := range records {
				acc, err := r.account()
				if err != nil {
					return err
				}
				accounts = append(accounts, acc)
			}

			return c.withApp(cmd.Context(), func(a *app.App) error {
				for _, acc := range accounts {
					if err := a.Accounts.Upsert(cmd.Context(), acc); err != nil {
						return fmt.Errorf("upsert account %s: %w", acc.ID, err)
					}
					c.logger.Info("account registered", zap.String("account_id", acc.ID), zap.String("status", string(acc.Status)))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %d accounts; run \"accounts seed\" to rotate them\n", len(accounts))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&record.ID, "id", "", "account id")
	cmd.Flags().StringVar(&record.Cookies, "cookies", "", "cookie header for the account")
	cmd.Flags().StringVar(&record.Nickname, "nickname", "", "display name")
	cmd.Flags().StringVar(&record.Status, "status", "active", "active, inactive or banned")
	cmd.Flags().StringVar(&file, "file", "", "JSON array of {id, cookies, nickname, status}")
	cmd.MarkFlagsMutuallyExclusive("file", "id")
	cmd.MarkFlagsOneRequired("file", "id")

	return cmd
}

func readAccountFile(path string) ([]accountRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var records []accountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("accounts file %s is empty", path)
	}
	return records, nil
}
