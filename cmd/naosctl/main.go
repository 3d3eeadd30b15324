// Command naosctl drives a simulated task/file-descriptor core session
// against the in-memory reference VFS backend and the hosted arch
// layer stand-ins, for manual exploration and smoke-testing of the
// kernel/* packages without real hardware: a thin cobra CLI wiring
// flags (via pflag/viper) to library calls.
package main

import (
	"fmt"
	"os"

	"github.com/wenxuanjun/naos/cmd/naosctl/internal/demo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "naosctl",
		Short: "Inspect and drive the task/file-descriptor core",
	}
	bindFlags(root.PersistentFlags())

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, err := logrus.ParseLevel(viper.GetString("log_level"))
		if err != nil {
			return err
		}
		logrus.SetLevel(lvl)
		return nil
	}

	root.AddCommand(newDemoCmd())
	return root
}

func bindFlags(fs *pflag.FlagSet) {
	fs.Int("cpus", 2, "number of logical CPUs to bring up")
	fs.String("log-level", "info", "logrus level (debug, info, warn, error)")
	viper.BindPFlag("cpus", fs.Lookup("cpus"))
	viper.BindPFlag("log_level", fs.Lookup("log-level"))
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted boot/fork/exit/waitpid, flock, timerfd and futex session and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return demo.Run(viper.GetInt("cpus"), cmd.OutOrStdout())
		},
	}
}
