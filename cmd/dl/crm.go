package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/engine"
	"donorline/internal/repo"
)

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgShowCmd())
	org.AddCommand(orgUseCmd())
	org.AddCommand(orgConfigCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization owned by the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()
			org, err := e.CreateOrganization(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(org)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations the current actor belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orgs, err := r.ListOrgs(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Status, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func orgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				org, err := e.Repo.GetOrg(ctx, orgID)
				if err != nil {
					return err
				}
				return printJSONOrTable(org)
			})
		},
	}
}

func orgUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <org-id>",
		Short: "Set the default organization in the workspace .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetOrg(ctx, args[0]); err != nil {
					return fmt.Errorf("organization %s: %w", args[0], err)
				}
				path := envPath(viper.GetString("workspace"))
				if err := setEnvValue(path, "DONORLINE_ORG", args[0]); err != nil {
					return err
				}
				fmt.Printf("Default organization set to %s in %s\n", args[0], path)
				return nil
			})
		},
	}
}

func orgConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Organization config"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				cfg, err := e.OrgConfig(ctx, orgID)
				if err != nil {
					return err
				}
				return printConfig(cfg)
			})
		},
	})

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				if cfg.Organization.ID == "" {
					cfg.Organization.ID = orgID
				}
				if cfg.Organization.ID != orgID {
					return fmt.Errorf("config organization %s does not match %s", cfg.Organization.ID, orgID)
				}
				if err := e.ImportOrgConfig(ctx, orgID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Imported config for %s\n", orgID)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "donorline.yml", "config file")
	cfgCmd.AddCommand(importCmd)
	return cfgCmd
}

func donorCmd() *cobra.Command {
	donor := &cobra.Command{Use: "donor", Short: "Manage donors"}
	donor.AddCommand(donorAddCmd())
	donor.AddCommand(donorListCmd())
	donor.AddCommand(donorShowCmd())
	return donor
}

func donorAddCmd() *cobra.Command {
	var in engine.DonorInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a donor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				d, err := e.CreateDonor(ctx, orgID, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&in.FirstName, "first", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last", "", "last name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&in.Status, "status", "", "status (ACTIVE, LYBUNT, SYBUNT, LAPSED, INACTIVE)")
	cmd.Flags().StringVar(&in.PreferredContact, "contact", "", "preferred contact (EMAIL, PHONE, MAIL)")
	cmd.Flags().StringVar(&in.RelationshipStage, "stage", "", "relationship stage (NEW, CULTIVATION, ASK_READY, STEWARDSHIP)")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("last")
	return cmd
}

func donorListCmd() *cobra.Command {
	var f repo.DonorFilters
	var simulated string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List donors, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if simulated != "" {
				v, err := strconv.ParseBool(simulated)
				if err != nil {
					return fmt.Errorf("invalid --simulated %q", simulated)
				}
				f.Simulated = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				f.OrgID = orgID
				donors, err := e.ListDonors(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(donors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Stage", "Lifetime", "Last Gift", "Sim"})
				for _, d := range donors {
					tw.AppendRow(table.Row{d.ID, d.FirstName + " " + d.LastName, d.Status, d.RelationshipStage, d.LifetimeTotal.StringFixed(2), derefString(d.LastGiftAt), d.IsSimulated})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "relationship stage filter")
	cmd.Flags().StringVar(&simulated, "simulated", "", "only simulated (true) or real (false) donors")
	cmd.Flags().StringVar(&f.Query, "q", "", "name or email search")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max donors")
	return cmd
}

func donorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <donor-id>",
		Short: "Show a donor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				d, err := e.GetDonor(ctx, orgID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func donationCmd() *cobra.Command {
	donation := &cobra.Command{Use: "donation", Short: "Record and list gifts"}
	donation.AddCommand(donationAddCmd())
	donation.AddCommand(donationListCmd())
	return donation
}

func donationAddCmd() *cobra.Command {
	var in engine.DonationInput
	var amount string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a donation",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q", amount)
			}
			in.Amount = amt
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				d, err := e.RecordDonation(ctx, orgID, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&in.DonorID, "donor", "", "donor id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 125.00")
	cmd.Flags().StringVar(&in.CampaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&in.Date, "date", "", "gift date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&in.PaymentMethod, "method", "", "payment method")
	cmd.Flags().StringVar(&in.Status, "status", "", "status (COMPLETED, PENDING, REFUNDED)")
	cmd.Flags().StringVar(&in.Type, "type", "", "type (ONE_TIME, RECURRING, PLEDGE, IN_KIND)")
	_ = cmd.MarkFlagRequired("donor")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func donationListCmd() *cobra.Command {
	var f repo.DonationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List donations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				f.OrgID = orgID
				items, err := e.ListDonations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Donor", "Amount", "Date", "Status", "Campaign"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.DonorID, d.Amount.StringFixed(2), d.Date, d.Status, derefString(d.CampaignID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DonorID, "donor", "", "donor filter")
	cmd.Flags().StringVar(&f.CampaignID, "campaign", "", "campaign filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max donations")
	return cmd
}

func activityCmd() *cobra.Command {
	activity := &cobra.Command{Use: "activity", Short: "Activity feed"}
	activity.AddCommand(activityLogCmd())
	activity.AddCommand(activityListCmd())
	return activity
}

func activityLogCmd() *cobra.Command {
	var in engine.ActivityInput
	var amount string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a manual activity against a donor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount != "" {
				amt, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid amount %q", amount)
				}
				in.Amount = &amt
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				a, err := e.LogActivity(ctx, orgID, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&in.DonorID, "donor", "", "donor id")
	cmd.Flags().StringVar(&in.Type, "type", "", "type (DONATION, COMMUNICATION, MEETING, TASK)")
	cmd.Flags().StringVar(&in.Action, "action", "", "action, e.g. call or email")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Importance, "importance", "", "importance (LOW, NORMAL, HIGH)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount")
	_ = cmd.MarkFlagRequired("donor")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func activityListCmd() *cobra.Command {
	var f repo.ActivityFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the activity feed, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				f.OrgID = orgID
				items, err := e.ListActivities(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printActivities(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DonorID, "donor", "", "donor filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "max activities")
	return cmd
}

func printActivities(items []domain.Activity) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"When", "Type", "Donor", "Title", "Amount", "Importance"})
	for _, a := range items {
		amount := ""
		if a.Amount != nil {
			amount = a.Amount.StringFixed(2)
		}
		tw.AppendRow(table.Row{a.CreatedAt, a.Type, a.DonorID, a.Title, amount, a.Importance})
	}
	tw.Render()
}

func campaignCmd() *cobra.Command {
	campaign := &cobra.Command{Use: "campaign", Short: "Manage campaigns"}
	campaign.AddCommand(campaignCreateCmd())
	campaign.AddCommand(campaignListCmd())
	campaign.AddCommand(campaignStatusCmd())
	campaign.AddCommand(campaignReportCmd())
	return campaign
}

func campaignCreateCmd() *cobra.Command {
	var in engine.CampaignInput
	var goal string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goal != "" {
				g, err := decimal.NewFromString(goal)
				if err != nil {
					return fmt.Errorf("invalid goal %q", goal)
				}
				in.Goal = g
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				c, err := e.CreateCampaign(ctx, orgID, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "campaign name")
	cmd.Flags().StringVar(&goal, "goal", "", "fundraising goal")
	cmd.Flags().StringVar(&in.Status, "status", "", "initial status (DRAFT, ACTIVE)")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.EndDate, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func campaignListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				items, err := e.ListCampaigns(ctx, orgID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Goal", "Start", "End"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Status, c.Goal.StringFixed(2), derefString(c.StartDate), derefString(c.EndDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func campaignStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <campaign-id> <DRAFT|ACTIVE|COMPLETED>",
		Short: "Move a campaign to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				c, err := e.SetCampaignStatus(ctx, orgID, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func campaignReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <campaign-id>",
		Short: "Totals, progress and donor segments of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, orgID string) error {
				rep, err := e.CampaignReport(ctx, orgID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("%s [%s]\n", rep.Campaign.Name, rep.Campaign.Status)
				fmt.Printf("Raised %s of %s (%s%%) from %d gifts by %d donors, average %s\n",
					rep.TotalRaised.StringFixed(2), rep.Campaign.Goal.StringFixed(2), rep.GoalProgress.String(),
					rep.DonationCount, rep.UniqueDonors, rep.AverageGift.StringFixed(2))
				if len(rep.Segments) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Dimension", "Value", "Donors", "Total"})
				for _, s := range rep.Segments {
					tw.AppendRow(table.Row{s.Dimension, s.Value, s.Donors, s.Total.StringFixed(2)})
				}
				tw.Render()
				return nil
			})
		},
	}
}
