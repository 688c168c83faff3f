package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "genctl",
	Short: "genctl is a command line tool for the genplane image generation service",
	Long: `genctl talks to a genplane controller: it queues image generations and
edits, follows their jobs, and inspects edit history.

Common workflows:

  Generate an image and wait for it:
    genctl generate "a red sneaker on a white background" --wait

  Edit a completed generation:
    genctl edit <generation-id> "make the laces blue" --wait

  Check a job or follow its events:
    genctl status <job-id>
    genctl watch <job-id>

  Inspect a generation and its edit chain:
    genctl show <generation-id>
    genctl history <generation-id>

Configuration:
  Set the API endpoint and caller via flags, environment variables or a config file:
    GENPLANE_URL     Controller URL (default: http://localhost:6161)
    GENPLANE_USER    User id sent as X-User-ID`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".genctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".genctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "GENPLANE_VARNAME"
	viper.SetEnvPrefix("GENPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the resolved url and user settings.
func newClient() *Client {
	return NewClient(viper.GetString("url"), viper.GetString("user"))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.genctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "genplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("user", "u", "", "user id sent with every request")
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))

	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}
