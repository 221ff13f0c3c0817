package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"roadie/internal/ipc"
	"roadie/internal/unit"
)

func newUnitCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Inspect and manage unit definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newUnitListCommand(ctx))
	cmd.AddCommand(newUnitShowCommand(ctx))
	cmd.AddCommand(newUnitInitCommand(ctx))
	cmd.AddCommand(newUnitInstallCommand(ctx))
	cmd.AddCommand(newUnitValidateCommand(ctx))
	cmd.AddCommand(newUnitExportCommand(ctx))
	cmd.AddCommand(newUnitReloadCommand(ctx))
	return cmd
}

func (c *commandContext) unitStore() (*unit.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return unit.NewStore(cfg.Paths.UnitsDir), nil
}

func newUnitListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed unit definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.unitStore()
			if err != nil {
				return err
			}

			units, problems := store.List()
			for _, problem := range problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", problem)
			}
			stdout := cmd.OutOrStdout()
			if len(units) == 0 {
				fmt.Fprintln(stdout, "No units installed; scaffold one with `roadie unit init`")
				return nil
			}

			rows := make([][]string, 0, len(units))
			for _, u := range units {
				rows = append(rows, []string{
					u.Name,
					string(u.Type),
					string(u.Restart),
					orDash(u.Device),
					orDash(u.Description),
				})
			}
			tableText := renderTable(
				[]string{"Unit", "Type", "Restart", "Device", "Description"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(stdout, tableText)
			return nil
		},
	}
}

func newUnitShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <unit>",
		Short: "Print an installed unit definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.unitStore()
			if err != nil {
				return err
			}
			u, err := store.Load(args[0])
			if err != nil {
				return err
			}
			data, err := unit.Encode(u)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "# %s\n", store.Path(u.Name))
			fmt.Fprint(stdout, string(data))
			return nil
		},
	}
}

func newUnitInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init [name]",
		Short: "Scaffold a unit definition",
		Long: "Without arguments, init installs the stock looper controller sample unit.\n" +
			"With a name it writes a minimal skeleton for a new service.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.unitStore()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()

			if len(args) == 0 {
				u, err := store.InstallSample()
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Installed sample unit %s at %s\n", u.Name, store.Path(u.Name))
				fmt.Fprintf(stdout, "Edit exec_start, then run `roadie start %s`\n", u.Name)
				return nil
			}

			name := strings.TrimSpace(args[0])
			if err := unit.ValidateName(name); err != nil {
				return err
			}
			if _, err := os.Stat(store.Path(name)); err == nil {
				return fmt.Errorf("unit %s already exists at %s", name, store.Path(name))
			}
			u := &unit.Unit{
				Name:      name,
				ExecStart: []string{filepath.Join("/usr/local/bin", name)},
			}
			if err := store.Install(u); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Installed unit %s at %s\n", name, store.Path(name))
			fmt.Fprintf(stdout, "Edit exec_start, then run `roadie start %s`\n", name)
			return nil
		},
	}
}

func newUnitInstallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "install <file>",
		Short: "Install a unit definition from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.unitStore()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read unit file: %w", err)
			}
			name := strings.TrimSuffix(filepath.Base(args[0]), ".toml")
			u, err := unit.Decode(name, data)
			if err != nil {
				return err
			}
			if err := store.Install(u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed unit %s at %s\n", u.Name, store.Path(u.Name))
			fmt.Fprintf(cmd.OutOrStdout(), "The daemon picks up the change automatically; run `roadie status` to confirm\n")
			return nil
		},
	}
}

func newUnitValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-unit>",
		Short: "Validate a unit file or installed unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := resolveUnitArg(ctx, args[0])
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			fmt.Fprintln(stdout, renderStatusLine("Definition", statusOK, fmt.Sprintf("Unit %s is valid", u.Name), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Exec", statusInfo, u.CommandLine(), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Type", statusInfo, string(u.Type), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Restart", statusInfo, string(u.Restart), colorize))
			if u.Device != "" {
				fmt.Fprintln(stdout, renderStatusLine("Device", statusInfo, u.Device, colorize))
			}
			if _, err := os.Stat(u.ExecStart[0]); err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Executable", statusWarn, fmt.Sprintf("%s is not present on this host", u.ExecStart[0]), colorize))
			}
			return nil
		},
	}
}

// resolveUnitArg accepts either a path to a unit file or an installed unit
// name.
func resolveUnitArg(ctx *commandContext, arg string) (*unit.Unit, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, errors.New("unit file or name is required")
	}
	if strings.ContainsRune(arg, os.PathSeparator) || strings.HasSuffix(arg, ".toml") {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read unit file: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(arg), ".toml")
		return unit.Decode(name, data)
	}
	store, err := ctx.unitStore()
	if err != nil {
		return nil, err
	}
	return store.Load(arg)
}

func newUnitExportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export <unit>",
		Short: "Render an installed unit as a systemd service file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.unitStore()
			if err != nil {
				return err
			}
			u, err := store.Load(args[0])
			if err != nil {
				return err
			}
			rendered, err := unit.ExportSystemd(u, cfg.StartTimeout(), cfg.StopTimeout())
			if err != nil {
				return err
			}
			if outputPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), rendered)
				return nil
			}
			if err := os.WriteFile(outputPath, []byte(rendered), 0o644); err != nil {
				return fmt.Errorf("write service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the service file here instead of stdout")
	return cmd
}

func newUnitReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the daemon to re-read the units directory now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.ReloadUnits()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if result.Empty() {
					fmt.Fprintln(stdout, "No unit changes detected")
					return nil
				}
				if len(result.Added) > 0 {
					fmt.Fprintf(stdout, "Added: %s\n", strings.Join(result.Added, ", "))
				}
				if len(result.Changed) > 0 {
					fmt.Fprintf(stdout, "Changed: %s\n", strings.Join(result.Changed, ", "))
				}
				if len(result.Removed) > 0 {
					fmt.Fprintf(stdout, "Removed: %s\n", strings.Join(result.Removed, ", "))
				}
				return nil
			})
		},
	}
}
