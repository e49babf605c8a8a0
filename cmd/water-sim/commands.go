package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sweeney/water-sim/internal/config"
	"github.com/sweeney/water-sim/internal/scan"
	"github.com/sweeney/water-sim/internal/tags"
	"github.com/sweeney/water-sim/internal/web"
)

// openPersistent opens the configured store for the operator commands.
// It is only reached when no daemon answered, so an in-memory store has
// nothing to operate on.
func openPersistent(cfg config.Config) (tags.Store, error) {
	if cfg.Store.Backend == "" || cfg.Store.Backend == "memory" {
		return nil, errors.New("no daemon reachable and the memory store cannot be opened from outside it " +
			"(start the daemon or use a badger or sqlite store)")
	}
	store, err := tags.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// viaDaemon runs fn against the daemon if one is configured. It reports
// false when the caller should fall back to the store.
func viaDaemon(d *daemonClient, fn func(*daemonClient) error) (bool, error) {
	if d == nil {
		return false, nil
	}
	err := fn(d)
	if errors.Is(err, errNoDaemon) {
		return false, nil
	}
	return true, err
}

func newStateCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the current process state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			var st web.StateJSON
			done, err := viaDaemon(g.daemon(cfg), func(d *daemonClient) (err error) {
				st, err = d.State(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			if !done {
				store, err := openPersistent(cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				s, err := tags.Load(store, cfg.BasePath, cfg.TankIDs())
				if err != nil {
					return fmt.Errorf("load state: %w", err)
				}
				st = web.NewStateJSON(s)
			}

			if asJSON {
				return printStateJSON(cmd.OutOrStdout(), st)
			}
			return printState(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printStateJSON(w io.Writer, s web.StateJSON) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func printState(w io.Writer, s web.StateJSON) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TANK\tNAME\tLEVEL\tENABLED\tFILL REQ\tVALVE")
	for _, t := range s.Tanks {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			t.ID, t.Name, t.LevelPct, onOff(t.Enabled), onOff(t.FillReq), openClosed(t.ValveOpen))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "COMPONENT\tPARAMETER\tVALUE\tSTATUS\tLAST UPDATE")
	for _, d := range s.Diagnostics {
		last := d.LastUpdate
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Component, d.Parameter, d.Value, d.Status, last)
	}
	return tw.Flush()
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func openClosed(b bool) string {
	if b {
		return "OPEN"
	}
	return "CLOSED"
}

func newSeedCmd(g *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the initial process image to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if d := g.daemon(cfg); d != nil {
				if _, err := d.State(cmd.Context()); err == nil {
					return fmt.Errorf("a daemon is running at %s; stop it before seeding", d.base)
				}
			}
			store, err := openPersistent(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := seed(store, cfg, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tanks under %s\n", len(cfg.Tanks), cfg.BasePath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing process image")
	return cmd
}

// seed writes the initial state unless the store already holds one and
// force is false.
func seed(store tags.Store, cfg config.Config, force bool) error {
	if !force {
		_, _, err := tags.LoadGate(store, cfg.BasePath)
		if err == nil {
			return fmt.Errorf("%s is already seeded (use --force to overwrite)", cfg.BasePath)
		}
		var nf *tags.NotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("read scan gate: %w", err)
		}
	}
	return tags.Seed(store, cfg.BasePath, cfg.InitialState())
}

func newBackwashCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backwash",
		Short: "Request a backwash cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			done, err := viaDaemon(g.daemon(cfg), func(d *daemonClient) error {
				return d.StartBackwash(cmd.Context())
			})
			if err != nil {
				return err
			}
			if !done {
				store, err := openPersistent(cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				if err := scan.StartBackwash(store, cfg.BasePath); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "backwash requested")
			return nil
		},
	}
}

func newSetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <tag> <value>",
		Short: "Write one tag, e.g. set Mode/EStop true",
		Long: `Write one tag. The tag path is relative to the base path, for example ` +
			`"Tanks/Tank_2/LowSP". The value is parsed as the type of the stored value.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			var tag web.TagJSON
			done, err := viaDaemon(g.daemon(cfg), func(d *daemonClient) (err error) {
				tag, err = d.SetTag(cmd.Context(), args[0], args[1])
				return err
			})
			if err != nil {
				return err
			}
			if !done {
				store, err := openPersistent(cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				if tag.Key, tag.Value, err = tags.Set(store, cfg.BasePath, args[0], args[1]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", tag.Key, tag.Value)
			return nil
		},
	}
}
