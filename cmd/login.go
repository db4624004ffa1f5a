package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hubwatch/ajax-bridge/internal/pkg/ajaxapi"
	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
)

var _loginCmdOpts struct {
	ajaxBaseURL  string
	ajaxAPIKey   string
	username     string
	password     string
	passwordHash string
	stateFile    string
	timeout      time.Duration
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the Ajax cloud and stash the session tokens",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doLogin(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("ajax.api-key", "ajax.username", "ajax.state-file")
	},
}

func init() {
	loginCmd.Flags().StringVar(&_loginCmdOpts.ajaxBaseURL, "ajax-url", ajaxapi.DefaultBaseURL, "Ajax cloud API base URL")
	loginCmd.Flags().StringVar(&_loginCmdOpts.ajaxAPIKey, "ajax-api-key", "", "Ajax enterprise API key (X-Api-Key)")
	loginCmd.Flags().StringVar(&_loginCmdOpts.username, "username", "", "Ajax account login")
	loginCmd.Flags().StringVar(&_loginCmdOpts.password, "password", "", "Ajax account password (hashed before it leaves the process)")
	loginCmd.Flags().StringVar(&_loginCmdOpts.passwordHash, "password-hash", "", "SHA-256 hex digest of the account password, instead of --password")
	loginCmd.Flags().StringVar(&_loginCmdOpts.stateFile, "state-file", "", "File to stash session/refresh tokens")
	loginCmd.Flags().DurationVar(&_loginCmdOpts.timeout, "timeout", time.Second*15, "maximum duration of the login call, eg. 1m or 10s")

	errPanic(viper.GetViper().BindPFlag("ajax.base-url", loginCmd.Flags().Lookup("ajax-url")))
	errPanic(viper.GetViper().BindPFlag("ajax.api-key", loginCmd.Flags().Lookup("ajax-api-key")))
	errPanic(viper.GetViper().BindPFlag("ajax.username", loginCmd.Flags().Lookup("username")))
	errPanic(viper.GetViper().BindPFlag("ajax.password", loginCmd.Flags().Lookup("password")))
	errPanic(viper.GetViper().BindPFlag("ajax.password-hash", loginCmd.Flags().Lookup("password-hash")))
	errPanic(viper.GetViper().BindPFlag("ajax.state-file", loginCmd.Flags().Lookup("state-file")))

	rootCmd.AddCommand(loginCmd)
}

func doLogin() error {
	username := viper.GetString("ajax.username")
	stateFile := viper.GetString("ajax.state-file")

	passwordHash := viper.GetString("ajax.password-hash")
	if passwordHash == "" {
		password := viper.GetString("ajax.password")
		if password == "" {
			return fmt.Errorf("need one of `ajax.password` or `ajax.password-hash`")
		}
		passwordHash = ajaxapi.HashPassword(password)
	}

	creds := ajaxapi.NewUserCredentials(
		viper.GetString("ajax.base-url"),
		viper.GetString("ajax.api-key"),
		username, passwordHash)

	ctx, cancel := context.WithTimeout(context.Background(), _loginCmdOpts.timeout)
	defer cancel()

	if err := creds.Login(ctx, username, passwordHash); err != nil {
		return err
	}

	if err := creds.Save(stateFile); err != nil {
		return err
	}

	logging.Logger(nil).Infof("Logged in as %s, session state written to %s", username, stateFile)
	return nil
}
