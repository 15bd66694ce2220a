package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"savevault/internal/app"
	"savevault/internal/config"
	"savevault/internal/core"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "savevault",
	Short: "Save-state versioning for emulated games",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:          %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:           %s\n", cfg.LogDir)
		fmt.Printf("Debounce Window:   %s\n", cfg.DebounceWindow)
		fmt.Printf("Retention Count:   %d\n", cfg.RetentionCount)
		fmt.Printf("Compression Level: %d\n", cfg.CompressionLevel)
		fmt.Printf("Database:          %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Blobs:             %s (%s)\n", cfg.Blobs.Type, cfg.Blobs.Root)
		for _, s := range cfg.Slots {
			fmt.Printf("Slot:              %s (%s)\n", s.Path, s.Emulator)
		}
		return nil
	},
}

// slot command
var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Manage tracked save slots",
}

var slotAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Track a save file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		emulator, _ := cmd.Flags().GetString("emulator")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		slot, err := a.AddSlot(args[0], emulator)
		if err != nil {
			return fmt.Errorf("tracking slot: %w", err)
		}

		fmt.Printf("Tracking slot %s: %s\n", slot.ID, slot.RootPath)
		return nil
	},
}

var slotRmCmd = &cobra.Command{
	Use:   "rm SLOT",
	Short: "Untrack a slot and delete its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveSlot(args[0]); err != nil {
			return fmt.Errorf("removing slot: %w", err)
		}

		fmt.Println("Slot removed.")
		return nil
	},
}

var slotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		slots, err := a.ListSlots()
		if err != nil {
			return err
		}

		if len(slots) == 0 {
			fmt.Println("No slots tracked.")
			return nil
		}

		for _, s := range slots {
			active := "-"
			if s.ActiveVersionID != nil {
				active = fmt.Sprintf("v%d", *s.ActiveVersionID)
			}
			fmt.Printf("%s  %-8s  %-10s  %s\n", s.ID, active, s.Emulator, s.RootPath)
		}
		return nil
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions SLOT",
	Short: "List a slot's stored versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.ListVersions(args[0])
		if err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println("No versions stored.")
			return nil
		}

		for _, v := range versions {
			fmt.Printf("v%-4d  %s  %s  %d -> %d bytes  %s\n",
				v.ID,
				v.ContentHash[:12],
				v.CreatedAt.Format("2006-01-02 15:04:05"),
				v.SizeOriginal,
				v.SizeCompressed,
				v.Algorithm,
			)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore SLOT",
	Short: "Restore a stored version to the slot's path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		versionID, _ := cmd.Flags().GetInt64("version")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Restore(args[0], versionID)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored v%d (%s, %d bytes)\n", v.ID, v.ContentHash[:12], v.SizeOriginal)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status SLOT",
	Short: "View a slot's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Status(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Slot:     %s\n", info.Slot.ID)
		fmt.Printf("Path:     %s\n", info.Slot.RootPath)
		fmt.Printf("State:    %s\n", info.State)
		fmt.Printf("Versions: %d\n", info.Status.VersionCount)
		if info.Status.ActiveVersionID != nil {
			fmt.Printf("Active:   v%d\n", *info.Status.ActiveVersionID)
		}
		if info.Status.LastCaptureAt != nil {
			fmt.Printf("Last:     %s\n", info.Status.LastCaptureAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the database schema and blob storage are healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		if err := app.Doctor(cfg); err != nil {
			return err
		}

		fmt.Println("Storage is healthy.")
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch all tracked slots until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return a.Run(ctx, func(ev core.Event) {
			switch ev.Kind {
			case core.EventVersionCreated:
				fmt.Printf("%s  %s  v%d captured (%d -> %d bytes)\n",
					ev.At.Format("15:04:05"), ev.SlotID, ev.Version.ID,
					ev.Version.SizeOriginal, ev.Version.SizeCompressed)
			case core.EventVersionRestored:
				fmt.Printf("%s  %s  v%d restored\n",
					ev.At.Format("15:04:05"), ev.SlotID, ev.Version.ID)
			case core.EventCaptureFailed:
				fmt.Printf("%s  %s  capture failed: %s\n",
					ev.At.Format("15:04:05"), ev.SlotID, ev.Reason)
			case core.EventSlotUnavailable:
				fmt.Printf("%s  %s  path unavailable\n",
					ev.At.Format("15:04:05"), ev.SlotID)
			case core.EventSlotAvailable:
				fmt.Printf("%s  %s  path available again\n",
					ev.At.Format("15:04:05"), ev.SlotID)
			}
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// slot subcommands
	slotCmd.AddCommand(slotAddCmd)
	slotAddCmd.Flags().StringP("emulator", "e", "", "Emulator name for this slot")
	slotCmd.AddCommand(slotRmCmd)
	slotCmd.AddCommand(slotListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(slotCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Int64P("version", "v", 0, "Version to restore (default: active)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
}
