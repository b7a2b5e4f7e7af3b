// Package cmd provides the command-line interface of malnet.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/malnet/flowstats"
)

// envPrefix is prepended to the environment variables that back the flags.
const envPrefix = "MALNET_"

// rootCmd represents the base command when called without any subcommands.
// Without a subcommand, it behaves like the run command.
var rootCmd = &cobra.Command{
	Use:   "malnet",
	Short: "Simulates a node population with malicious nodes.",
	Long: `malnet builds a population of benign and malicious nodes on a ` +
		`shared medium, runs a UDP flow between two of them, and reports ` +
		`the packet delivery ratio measured by the flow monitor.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		return applyEnv(cmd.Flags())
	},
	RunE: runScenario,
}

func init() {
	addRunFlags(rootCmd.Flags())
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	atexit.Exit(exitCode(rootCmd.Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flowstats.ErrNoTraffic):
		return 2
	default:
		return 1
	}
}

// applyEnv sets the flags that are not given on the command line from the
// MALNET_* environment variables.
func applyEnv(flags *pflag.FlagSet) error {
	var err error

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || err != nil {
			return
		}

		value, found := os.LookupEnv(envName(f.Name))
		if !found {
			return
		}

		setErr := flags.Set(f.Name, value)
		if setErr != nil {
			err = fmt.Errorf("%s: %w", envName(f.Name), setErr)
		}
	})

	return err
}

// envName turns numNodes into MALNET_NUM_NODES and monitor-port into
// MALNET_MONITOR_PORT.
func envName(flag string) string {
	var b strings.Builder

	b.WriteString(envPrefix)

	for i, r := range flag {
		switch {
		case r == '-':
			b.WriteByte('_')
		case unicode.IsUpper(r) && i > 0:
			b.WriteByte('_')
			b.WriteRune(r)
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}

	return b.String()
}
