package cmd

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
)

var _rootCmdOpts struct {
	cfgFile string
	debug   bool
}

var rootCmd = &cobra.Command{
	Use:   "ajax-bridge",
	Short: "Bridge between the Ajax Systems cloud API and local automation",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _rootCmdOpts.debug {
			// flag wins over any config file setting
			viper.Set("logging.level", "debug")
		}

		return logging.Configure(viper.GetViper())
	},

	SilenceUsage: true,
}

// Execute runs the root command, it is called once from main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logging.Logger(nil).WithError(err).Error("exiting")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.cfgFile, "config", "", "config file (default is $HOME/.ajax-bridge.yaml)")
	rootCmd.PersistentFlags().BoolVar(&_rootCmdOpts.debug, "debug", false, "enable debug logging")

	errPanic(viper.GetViper().BindPFlag("logging.debug", rootCmd.PersistentFlags().Lookup("debug")))
}

// errPanic is used for errors that cannot happen at runtime with
// well-formed flag definitions
func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func initConfig() {
	if _rootCmdOpts.cfgFile != "" {
		viper.SetConfigFile(_rootCmdOpts.cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".ajax-bridge")
	}

	viper.SetEnvPrefix("AJAX_BRIDGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Logger(nil).Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}
