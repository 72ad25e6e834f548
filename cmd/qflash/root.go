package main

import (
	"github.com/spf13/cobra"

	"github.com/qedl/qflash/internal/logging"
)

var (
	flagPort    string
	flagDebug   bool
	flagSector  int
	flagLUN     int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qflash",
		Short: "Host-side CLI for EDL Sahara/Firehose flashing",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			if flagDebug {
				cfg.Level = logging.LevelDebug
			}
			logging.SetDefault(logging.NewLogger(cfg))
		},
	}

	root.PersistentFlags().StringVar(&flagPort, "port", "", "serial port path; auto-enumerates the first USB-class port when empty")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable verbose logging")
	root.PersistentFlags().IntVar(&flagSector, "sector-size", 4096, "storage sector size in bytes")
	root.PersistentFlags().IntVar(&flagLUN, "lun", 0, "physical_partition_number (LUN)")

	root.AddCommand(
		newErasePartCmd(),
		newReadPartCmd(),
		newWritePartCmd(),
		newWriteFromXMLCmd(),
		newReadGPTCmd(),
		newReadDeviceInfoCmd(),
		newIdentifyLoaderCmd(),
		newRebootCmd("reboot_to_edl", "reset_to_edl"),
		newRebootCmd("reboot_to_fastboot", "reset_to_fastboot"),
		newRebootCmd("reboot_to_recovery", "reset_to_recovery"),
		newRebootCmd("reboot_to_system", "reset"),
		newSendLoaderCmd(),
		newSendPingCmd(),
		newSwitchSlotCmd(),
		newStartFlashingCmd(),
		newStopFlashingCmd(),
		newUpdatePortCmd(),
		newSaveToXMLCmd(),
		newRunCommandCmd(),
	)

	return root
}
