package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/mc-server-manager/internal/admission"
	"github.com/yourusername/mc-server-manager/internal/auth"
	"github.com/yourusername/mc-server-manager/internal/backup"
	"github.com/yourusername/mc-server-manager/internal/config"
	"github.com/yourusername/mc-server-manager/internal/database"
	"github.com/yourusername/mc-server-manager/internal/jvm"
	"github.com/yourusername/mc-server-manager/internal/registry"
	"github.com/yourusername/mc-server-manager/internal/server"
)

const tokenIssuer = "mcsm"

type cli struct {
	configPath string
	cfg        *config.Config
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	command := &cobra.Command{
		Use:          "mcsm",
		Short:        "Run and supervise local Minecraft server installs",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c.cfg)
		},
	}

	command.AddCommand(
		c.serveCmd(),
		c.listCmd(),
		c.resolveCmd(),
		c.memoryCmd(),
		c.tokenCmd(),
		c.migrateCmd(),
		c.backupCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&c.configPath,
		"config",
		"",
		"Path to config.yaml (defaults to $CONFIG_PATH or ./configs/config.yaml)",
	)

	return command
}

func (c *cli) loadConfig() error {
	var err error
	if c.configPath != "" {
		c.cfg, err = config.LoadFile(c.configPath)
	} else {
		c.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return nil
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the management API, scheduler and console streaming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c.cfg)
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List discovered server installs and whether they are running",
		Example: "  mcsm list",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeDB := c.openRegistry()
			defer closeDB()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "NAME\tSTATE\tPID\tHEAP\tPATH\t\n")
			for _, inst := range reg.All() {
				snap := inst.Snapshot()
				pid := "-"
				if snap.Running {
					pid = fmt.Sprintf("%d", snap.PID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dG/%dG\t%s\t\n",
					snap.Name, snap.State, pid, snap.MaxHeapGB, snap.InitHeapGB, snap.Path)
			}
			return w.Flush()
		},
	}
}

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resolve [flags] DIR",
		Short:   "Detect the game version of an install and the java runtime it needs",
		Example: "  mcsm resolve ./Servers/survival",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", args[0])
			}

			match := newResolver(c.cfg).Resolve(args[0])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:  %s\n", orUnknown(match.Version))
			if match.RequiredMajor > 0 {
				fmt.Fprintf(out, "requires: java %d\n", match.RequiredMajor)
			} else {
				fmt.Fprintf(out, "requires: unknown\n")
			}
			fmt.Fprintf(out, "runtime:  %s\n", orUnknown(match.Binary))
			return nil
		},
	}
}

func (c *cli) memoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "memory",
		Short: "Show the heap budget and how much of it running servers hold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			budget, err := admission.ResolveBudget(c.cfg.Memory.TotalGB, c.cfg.Memory.ReserveGB)
			if err != nil {
				return fmt.Errorf("failed to determine host memory (set memory.total_gb): %w", err)
			}

			reg, closeDB := c.openRegistry()
			defer closeDB()

			usage := admission.Measure(reg.All(), budget)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TOTAL\tRESERVED\tCOMMITTED\tAVAILABLE\tRUNNING\t\n")
			fmt.Fprintf(w, "%dG\t%dG\t%dG\t%dG\t%d\t\n",
				usage.TotalGB, usage.ReserveGB, usage.CommittedGB, usage.AvailableGB, usage.Running)
			return w.Flush()
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var subject, scopes string

	command := &cobra.Command{
		Use:     "token",
		Short:   "Mint an API token",
		Example: "  mcsm token --subject panel --scopes servers:read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set, the API runs without authentication")
			}
			parsed, err := auth.ParseScopes(scopes)
			if err != nil {
				return err
			}
			duration, err := c.cfg.TokenDuration()
			if err != nil {
				return err
			}

			token, expiresAt, err := newTokenManager(c.cfg, duration).Issue(subject, parsed)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "scopes %s, expires %s\n", strings.Join(parsed, ","), expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	command.Flags().StringVar(&subject, "subject", "", "Who the token is issued to")
	command.Flags().StringVar(&scopes, "scopes", "", "Comma separated scopes (default servers:read,servers:control)")
	command.MarkFlagRequired("subject")

	return command
}

func (c *cli) migrateCmd() *cobra.Command {
	var down bool

	command := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations, or revert the newest one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewDB(c.cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			if down {
				if err := db.Rollback(); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back newest migration")
				return nil
			}
			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	command.Flags().BoolVar(&down, "down", false, "Revert the newest applied migration")

	return command
}

func (c *cli) backupCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore install backups",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.loadConfig(); err != nil {
				return err
			}
			if !c.cfg.Backup.Enabled {
				return errors.New("backups are disabled (backup.enabled)")
			}
			return nil
		},
	}

	command.AddCommand(
		&cobra.Command{
			Use:     "create NAME",
			Short:   "Archive an install and upload it to the backup destination",
			Example: "  mcsm backup create survival",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withBackups(func(m *backup.Manager) error {
					record, err := m.CreateBackup(cmdContext(cmd), args[0], "cli")
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n", record.ID, record.Filename, record.SizeBytes)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list NAME",
			Short: "List the recorded backups of an install, newest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withBackups(func(m *backup.Manager) error {
					records, err := m.ListBackups(args[0])
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintf(w, "ID\tSTATUS\tCREATED\tSIZE\tFILE\t\n")
					for _, record := range records {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n", record.ID, record.Status,
							record.CreatedAt.Local().Format("2006-01-02 15:04:05"), record.SizeBytes, record.Filename)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:     "restore ID",
			Short:   "Unpack a backup over its install; the server must be stopped",
			Example: "  mcsm backup restore backup-1a2b3c4d",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withBackups(func(m *backup.Manager) error {
					record, err := m.RestoreBackup(cmdContext(cmd), args[0], "cli")
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", record.ID, record.Instance)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "files",
			Short: "List the archives stored at the backup destination",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withBackups(func(m *backup.Manager) error {
					files, err := m.DestinationFiles()
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintf(w, "FILE\tSIZE\tMODIFIED\t\n")
					for _, file := range files {
						fmt.Fprintf(w, "%s\t%d\t%s\t\n", file.Filename, file.SizeBytes,
							time.Unix(file.CreatedAt, 0).Format("2006-01-02 15:04:05"))
					}
					return w.Flush()
				})
			},
		},
	)

	return command
}

// withBackups opens the database and a backup manager over the servers
// root. Backups started here are not visible to a running manager's
// in-progress guard.
func (c *cli) withBackups(fn func(*backup.Manager) error) error {
	db, err := database.Open(c.cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	store := database.NewStatusStore(db)
	reg := registry.New(c.cfg.Storage.ServersRoot, registryDefaults(c.cfg), store, server.WithResolver(newResolver(c.cfg)))
	return fn(backup.NewManager(db, reg, c.cfg.Backup.Destination, backup.OptionsFromConfig(c.cfg)))
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openRegistry scans the servers root, restoring pids recorded by a
// running or previous manager so liveness is reported correctly. Without a
// database it still lists installs.
func (c *cli) openRegistry() (*registry.Registry, func()) {
	resolver := newResolver(c.cfg)
	defaults := registryDefaults(c.cfg)

	if _, err := os.Stat(c.cfg.Database.Path); err != nil {
		return registry.New(c.cfg.Storage.ServersRoot, defaults, nil, server.WithResolver(resolver)), func() {}
	}
	db, err := database.Open(c.cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: pids unavailable: %v\n", err)
		return registry.New(c.cfg.Storage.ServersRoot, defaults, nil, server.WithResolver(resolver)), func() {}
	}
	store := database.NewStatusStore(db)
	reg := registry.New(c.cfg.Storage.ServersRoot, defaults, store, server.WithResolver(resolver))
	return reg, func() { db.Close() }
}

func newResolver(cfg *config.Config) *jvm.Resolver {
	var patterns []string
	for _, home := range cfg.Java.ExtraHomes {
		if home = strings.TrimSpace(home); home != "" {
			patterns = append(patterns, filepath.Clean(home))
		}
	}
	resolver := jvm.NewResolver(patterns...)
	resolver.ProbeTimeout = cfg.ProbeTimeout()
	return resolver
}

func registryDefaults(cfg *config.Config) registry.Defaults {
	defaults := registry.Defaults{
		Heap: registry.Heap{MaxGB: cfg.Memory.DefaultMaxGB, InitGB: cfg.Memory.DefaultInitGB},
	}
	if len(cfg.Instances) > 0 {
		defaults.Overrides = make(map[string]registry.Heap, len(cfg.Instances))
		for name, override := range cfg.Instances {
			defaults.Overrides[name] = registry.Heap{MaxGB: override.MaxHeapGB, InitGB: override.InitHeapGB}
		}
	}
	return defaults
}

func newTokenManager(cfg *config.Config, duration time.Duration) *auth.TokenManager {
	return auth.NewTokenManager(cfg.Auth.JWTSecret, tokenIssuer, duration)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
