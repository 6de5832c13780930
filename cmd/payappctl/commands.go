package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/payapp-engine/internal/config"
	"github.com/garyjia/payapp-engine/internal/container"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
	"github.com/garyjia/payapp-engine/pkg/utils"
)

// session is a started container plus the caller identity for one command
type session struct {
	container *container.Container
	ctx       context.Context
}

func openSession(cmd *cobra.Command, flags *globalFlags) (*session, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	// Keep stdout clean for command output
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: "stderr",
		Format:     "console",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(cmd.Context()); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if flags.userID != "" {
		ctx = identity.WithUserID(ctx, flags.userID)
	}
	return &session{container: c, ctx: ctx}, nil
}

func (s *session) close() {
	if err := s.container.Close(); err != nil {
		s.container.Logger().Warn("Failed to close container", zap.Error(err))
	}
}

func requireUser(flags *globalFlags) error {
	if flags.userID == "" {
		return fmt.Errorf("--as is required for this command")
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			logger, err := utils.NewLogger(utils.LoggerConfig{Level: cfg.Logger.Level, OutputPath: "stderr", Format: "console"})
			if err != nil {
				return err
			}

			dbCfg := cfg.ToContainerConfig().Database
			bundle, err := container.ProvideStore(&dbCfg, logger)
			if err != nil {
				return err
			}
			if bundle.Conn != nil {
				defer func() { _ = bundle.Conn.Close() }()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.Database.Path)
			return nil
		},
	}
}

func usersCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the users of the identity directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			dir, err := identity.LoadDirectory(cfg.Identity.UsersFile)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tROLE\tORGANIZATION\tNAME")
			for _, u := range dir.Users() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Role, u.OrganizationID, u.Name)
			}
			return tw.Flush()
		},
	}
}

func projectsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List the projects of the caller's organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(flags); err != nil {
				return err
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			projects, err := s.container.Services().Ledger.ListProjects(s.ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCONTRACTOR\tLINE ITEMS")
			for _, p := range projects {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", p.ID, p.Name, p.ContractorID, len(p.LineItems))
			}
			return tw.Flush()
		},
	}
}

func summaryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summary [project-id]",
		Short: "Print a project's schedule of values roll-up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(flags); err != nil {
				return err
			}
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			summary, err := s.container.Services().Ledger.ProjectSummary(s.ctx, projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func historyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history [application-id]",
		Short: "Print a pay application's state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(flags); err != nil {
				return err
			}
			appID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			records, err := s.container.Workflow().History(s.ctx, appID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tTRIGGER\tFROM\tTO\tACTOR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.Trigger, r.PreviousStatus, r.NewStatus, r.ActorID)
			}
			return tw.Flush()
		},
	}
}

func certificateCmd(flags *globalFlags) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "certificate [application-id]",
		Short: "Export the settlement certificate of a finalized pay application",
		Long: `Export the G702/G703 settlement certificate of a finalized pay application.

Examples:
  payappctl certificate 12 --as dana
  payappctl certificate 12 --as dana --format json --out -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(flags); err != nil {
				return err
			}
			appID, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			writer, ok := s.container.Writer(format)
			if !ok {
				return fmt.Errorf("unsupported format %q (xlsx, json)", format)
			}

			cert, err := s.container.Services().Settlement.Export(s.ctx, appID)
			if err != nil {
				return err
			}

			if out == "-" {
				return writer.Write(s.ctx, cert, cmd.OutOrStdout())
			}
			if out == "" {
				out = fmt.Sprintf("certificate-%d-%s%s", cert.ApplicationNumber, cert.Number, writer.Extension())
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := writer.Write(s.ctx, cert, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "output format (xlsx, json); defaults to export.default_format")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout")

	return cmd
}
