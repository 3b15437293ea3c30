package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/lifecycle"
)

func (c *cli) migrateCmd() *cobra.Command {
	var noSeed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create graph constraints and seed reference data",
		Long: `Migrate creates the uniqueness constraints and indexes of the passport
graph, then merges the default actors and locations. Both steps are
idempotent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.b.migrate != nil {
				if err := c.b.migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			if noSeed {
				return c.printJSON(lifecycle.SeedReport{})
			}
			report, err := c.b.engine.Seed(cmd.Context())
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			return c.printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "only create constraints")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var (
		file string
		reg  domain.Registration
		mass float64
	)
	cmd := &cobra.Command{
		Use:   "register [serial-number]",
		Short: "Register a battery or update its static attributes",
		Long: `Register creates a battery with its passport in ORIGINAL status, or
updates the static attributes of an existing battery.

The registration is read from --file (JSON, "-" for stdin) or built from
flags.

Example:
  passportctl register BAT-EV-0001 --owner-name Renault --plant Douai --composition NMC
  passportctl register -f battery.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := readJSON(file, cmd.InOrStdin(), &reg); err != nil {
					return err
				}
			}
			if len(args) == 1 {
				reg.Battery.SerialNumber = args[0]
			}
			if cmd.Flags().Changed("mass") {
				reg.Battery.MassKg = &mass
			}
			out, err := c.b.engine.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			return c.printJSON(out)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "registration JSON file")
	f.StringVar(&reg.OwnerID, "owner-id", "", "owner actor ID")
	f.StringVar(&reg.OwnerName, "owner-name", "", "owner name, used to derive the owner ID")
	f.StringVar(&reg.ManufacturingPlace, "plant", "", "manufacturing place")
	f.StringVar(&reg.CurrentLocationID, "location", "", "initial location ID (default LOC-GARAGE when present)")
	f.StringVar(&reg.Battery.Category, "category", "", "battery category")
	f.StringVar(&reg.Battery.Composition, "composition", "", "chemistry, e.g. NMC or LFP")
	f.Float64Var(&mass, "mass", 0, "mass in kg")
	return cmd
}

func (c *cli) actorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actor <actor-id> <name> <role>",
		Short: "Create an actor if it does not exist",
		Long: `Actor merges an actor on its ID. An existing actor keeps its stored
name and role.

Roles: Garagiste, Propriétaire, CentreDeTri`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.b.engine.RegisterActor(cmd.Context(), domain.Actor{
				ActorID: args[0],
				Name:    args[1],
				Role:    domain.Role(args[2]),
			})
			if err != nil {
				return err
			}
			return c.printJSON(out)
		},
	}
}

func (c *cli) locationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "location <location-id> <address> <type>",
		Short: "Create a location if it does not exist",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.b.engine.RegisterLocation(cmd.Context(), domain.Location{
				LocationID: args[0],
				Address:    args[1],
				Type:       args[2],
			})
			if err != nil {
				return err
			}
			return c.printJSON(out)
		},
	}
}

func (c *cli) performanceCmd() *cobra.Command {
	var (
		soh, power, fade float64
		cycles           int64
	)
	cmd := &cobra.Command{
		Use:   "performance <serial-number>",
		Short: "Record a health snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Performance
			if cmd.Flags().Changed("soh") {
				p.StateOfHealthPercent = &soh
			}
			if cmd.Flags().Changed("power") {
				p.OriginalPowerKW = &power
			}
			if cmd.Flags().Changed("fade") {
				p.CapacityFadePercent = &fade
			}
			if cmd.Flags().Changed("cycles") {
				p.FullCycles = &cycles
			}
			out, err := c.b.engine.RecordPerformance(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			return c.printJSON(out)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&soh, "soh", 0, "state of health, percent")
	f.Float64Var(&power, "power", 0, "original power, kW")
	f.Float64Var(&fade, "fade", 0, "capacity fade, percent")
	f.Int64Var(&cycles, "cycles", 0, "full charge cycles")
	return cmd
}

func (c *cli) declareWasteCmd() *cobra.Command {
	var req lifecycle.DeclareWasteRequest
	cmd := &cobra.Command{
		Use:   "declare-waste <serial-number>",
		Short: "Garagiste declares a battery as waste",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SerialNumber = args[0]
			return c.printResult(c.b.engine.DeclareWaste(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&req.ActorID, "actor", "", "garagiste actor ID")
	cmd.Flags().StringVar(&req.EventID, "event-id", "", "idempotency key for the event")
	cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) validateWasteCmd() *cobra.Command {
	var req lifecycle.ValidateWasteRequest
	cmd := &cobra.Command{
		Use:   "validate-waste [serial-number]",
		Short: "Owner confirms a waste declaration",
		Long: `Validate-waste moves a passport from WASTE_REQUESTED to WASTE. The
battery is named by serial number or by --passport.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.SerialNumber = args[0]
			}
			if req.SerialNumber == "" && req.PassportID == "" {
				return fmt.Errorf("a serial number or --passport is required")
			}
			return c.printResult(c.b.engine.ValidateWaste(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&req.PassportID, "passport", "", "passport ID instead of serial number")
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "owner actor ID")
	cmd.Flags().StringVar(&req.EventID, "event-id", "", "idempotency key for the event")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func (c *cli) receiveCmd() *cobra.Command {
	var req lifecycle.ReceiveRequest
	cmd := &cobra.Command{
		Use:   "receive <serial-number>",
		Short: "Sorting center receives a waste battery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SerialNumber = args[0]
			return c.printResult(c.b.engine.ReceiveBattery(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&req.CenterID, "center", "", "sorting center actor ID")
	cmd.Flags().StringVar(&req.LocationID, "location", "", "receiving location ID")
	cmd.Flags().StringVar(&req.EventID, "event-id", "", "idempotency key for the event")
	cmd.MarkFlagRequired("center")
	cmd.MarkFlagRequired("location")
	return cmd
}

func (c *cli) printResult(res lifecycle.Result, err error) error {
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func readJSON(path string, stdin io.Reader, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
