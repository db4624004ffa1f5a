package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hubwatch/ajax-bridge/internal/pkg/ajaxapi"
	"github.com/hubwatch/ajax-bridge/internal/pkg/coordinator"
	"github.com/hubwatch/ajax-bridge/internal/pkg/handlers"
	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
	"github.com/hubwatch/ajax-bridge/internal/pkg/sqsapi"
	"github.com/hubwatch/ajax-bridge/pkg/middlewares"
)

var _serveCmdOpts struct {
	httpPort        uint16
	gracefulTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	ajaxBaseURL     string
	ajaxAPIKey      string
	ajaxHubID       string
	ajaxTimeout     time.Duration
	companyID       string
	companyToken    string
	username        string
	passwordHash    string
	stateFile       string
	pollInterval    time.Duration
	sqsQueueURL     string
	sqsAccessKey    string
	sqsSecretKey    string
	sqsRegion       string
	corsOrigins     []string
	logRequests     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge web server and sync loops",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doServe(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("ajax.api-key", "ajax.hub-id")
	},
}

func init() {
	serveCmd.Flags().Uint16Var(&_serveCmdOpts.httpPort, "http-port", 8099, "HTTP port number")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for server to finish, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.readTimeout, "read-timeout", time.Second*15, "duration to wait for request read, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.writeTimeout, "write-timeout", time.Second*60, "duration to wait for request write, eg. 1m or 10s")
	serveCmd.Flags().StringVar(&_serveCmdOpts.ajaxBaseURL, "ajax-url", ajaxapi.DefaultBaseURL, "Ajax cloud API base URL")
	serveCmd.Flags().StringVar(&_serveCmdOpts.ajaxAPIKey, "ajax-api-key", "", "Ajax enterprise API key (X-Api-Key)")
	serveCmd.Flags().StringVar(&_serveCmdOpts.ajaxHubID, "hub-id", "", "ID of the hub to synchronise")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.ajaxTimeout, "ajax-timeout", time.Second*15, "maximum duration of an Ajax API call, eg. 1m or 10s")
	serveCmd.Flags().StringVar(&_serveCmdOpts.companyID, "company-id", "", "company ID for company token auth")
	serveCmd.Flags().StringVar(&_serveCmdOpts.companyToken, "company-token", "", "company token for company token auth")
	serveCmd.Flags().StringVar(&_serveCmdOpts.username, "username", "", "Ajax account login for session auth")
	serveCmd.Flags().StringVar(&_serveCmdOpts.passwordHash, "password-hash", "", "SHA-256 hex digest of the Ajax account password")
	serveCmd.Flags().StringVar(&_serveCmdOpts.stateFile, "state-file", "", "File to stash session/refresh tokens between runs")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.pollInterval, "poll-interval", coordinator.DefaultInterval, "cloud polling interval, eg. 30s or 1m")
	serveCmd.Flags().StringVar(&_serveCmdOpts.sqsQueueURL, "sqs-queue-url", "", "SQS queue URL for real-time events (polling only if unset)")
	serveCmd.Flags().StringVar(&_serveCmdOpts.sqsAccessKey, "sqs-access-key", "", "AWS access key ID for the SQS queue")
	serveCmd.Flags().StringVar(&_serveCmdOpts.sqsSecretKey, "sqs-secret-key", "", "AWS secret access key for the SQS queue")
	serveCmd.Flags().StringVar(&_serveCmdOpts.sqsRegion, "sqs-region", "eu-west-1", "AWS region of the SQS queue")
	serveCmd.Flags().StringSliceVar(&_serveCmdOpts.corsOrigins, "cors-origins", []string{"*"}, "allowed CORS origins")
	serveCmd.Flags().BoolVar(&_serveCmdOpts.logRequests, "log-requests", false, "log requests and responses (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("http.port", serveCmd.Flags().Lookup("http-port")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", serveCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.read-timeout", serveCmd.Flags().Lookup("read-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.write-timeout", serveCmd.Flags().Lookup("write-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.cors-origins", serveCmd.Flags().Lookup("cors-origins")))
	errPanic(viper.GetViper().BindPFlag("ajax.base-url", serveCmd.Flags().Lookup("ajax-url")))
	errPanic(viper.GetViper().BindPFlag("ajax.api-key", serveCmd.Flags().Lookup("ajax-api-key")))
	errPanic(viper.GetViper().BindPFlag("ajax.hub-id", serveCmd.Flags().Lookup("hub-id")))
	errPanic(viper.GetViper().BindPFlag("ajax.api-timeout", serveCmd.Flags().Lookup("ajax-timeout")))
	errPanic(viper.GetViper().BindPFlag("ajax.company-id", serveCmd.Flags().Lookup("company-id")))
	errPanic(viper.GetViper().BindPFlag("ajax.company-token", serveCmd.Flags().Lookup("company-token")))
	errPanic(viper.GetViper().BindPFlag("ajax.username", serveCmd.Flags().Lookup("username")))
	errPanic(viper.GetViper().BindPFlag("ajax.password-hash", serveCmd.Flags().Lookup("password-hash")))
	errPanic(viper.GetViper().BindPFlag("ajax.state-file", serveCmd.Flags().Lookup("state-file")))
	errPanic(viper.GetViper().BindPFlag("poll.interval", serveCmd.Flags().Lookup("poll-interval")))
	errPanic(viper.GetViper().BindPFlag("aws.sqs.queue-url", serveCmd.Flags().Lookup("sqs-queue-url")))
	errPanic(viper.GetViper().BindPFlag("aws.sqs.access-key", serveCmd.Flags().Lookup("sqs-access-key")))
	errPanic(viper.GetViper().BindPFlag("aws.sqs.secret-key", serveCmd.Flags().Lookup("sqs-secret-key")))
	errPanic(viper.GetViper().BindPFlag("aws.sqs.region", serveCmd.Flags().Lookup("sqs-region")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", serveCmd.Flags().Lookup("log-requests")))

	rootCmd.AddCommand(serveCmd)
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

// buildCredentials picks the auth mode from the supplied config: a company
// token pair wins, otherwise we fall back to a username/password session.
func buildCredentials() (*ajaxapi.Credentials, error) {
	baseURL := viper.GetString("ajax.base-url")
	apiKey := viper.GetString("ajax.api-key")

	companyID := viper.GetString("ajax.company-id")
	companyToken := viper.GetString("ajax.company-token")
	if companyID != "" && companyToken != "" {
		return ajaxapi.NewCompanyCredentials(baseURL, apiKey, companyID, companyToken), nil
	}

	username := viper.GetString("ajax.username")
	passwordHash := viper.GetString("ajax.password-hash")
	if username == "" || passwordHash == "" {
		return nil, fmt.Errorf("need either `ajax.company-id`+`ajax.company-token` or `ajax.username`+`ajax.password-hash`")
	}

	creds := ajaxapi.NewUserCredentials(baseURL, apiKey, username, passwordHash)

	if stateFile := viper.GetString("ajax.state-file"); stateFile != "" {
		if err := creds.Load(stateFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.Logger(nil).Debugf("no session state at %s, will log in", stateFile)
			} else {
				return nil, err
			}
		}
	}

	return creds, nil
}

func doServe() error {
	wait := viper.GetDuration("http.graceful-timeout")
	port := viper.GetUint("http.port")
	hubID := viper.GetString("ajax.hub-id")
	apiTimeout := viper.GetDuration("ajax.api-timeout")
	stateFile := viper.GetString("ajax.state-file")
	pollInterval := viper.GetDuration("poll.interval")
	queueURL := viper.GetString("aws.sqs.queue-url")

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logRequests = true
		} else {
			logging.Logger(nil).Warn("log-requests ignored when not in debug mode")
		}
	}

	creds, err := buildCredentials()
	if err != nil {
		return err
	}

	client := ajaxapi.NewLiveClient(viper.GetString("ajax.base-url"), creds).WithTimeout(apiTimeout)

	// context to allow us to stop the sync loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wait group for the sync loop
	var wg sync.WaitGroup

	// comms between the listener and the coordinator
	eventChan := make(chan sqsapi.Event, 64)

	store := coordinator.NewStore()
	coord := coordinator.New(client, hubID, pollInterval, store, eventChan)

	var listener *sqsapi.Listener
	if queueURL != "" {
		queue, err := sqsapi.NewLiveQueue(ctx, queueURL,
			viper.GetString("aws.sqs.access-key"),
			viper.GetString("aws.sqs.secret-key"),
			viper.GetString("aws.sqs.region"))
		if err != nil {
			return err
		}

		listener = sqsapi.NewListener(queue, hubID, eventChan)
		listener.Start()
	} else {
		logging.Logger(nil).Info("no SQS queue configured, polling only")
	}

	// Run the coordinator loop in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()

	bh := handlers.NewBridgeHandler(coord, listener)

	r := mux.NewRouter()
	r.Use(middlewares.NewCorsMw(cors.Options{
		AllowedOrigins: viper.GetStringSlice("http.cors-origins"),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))
	r.Use(middlewares.NewLoggingMw(logRequests))
	r.Use(middlewares.NewRecoveryMw())
	r.Use(middlewares.NewCorrelationMw("X-Correlation-ID"))
	bh.Register(r.PathPrefix("/api/v1").Subrouter())

	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  viper.GetDuration("http.read-timeout"),
		WriteTimeout: viper.GetDuration("http.write-timeout"),
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}

	logging.Logger(nil).Infof("Serving on port %d", port)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Block until we receive a signal
	<-c
	logging.Logger(nil).Info("main: shutting down")

	// Stop taking new requests first
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), wait)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Error("shutting down server")
	}

	if listener != nil {
		listener.Stop(shutdownCtx)
	}

	// Stop the coordinator loop and wait for it to drain
	cancel()
	wg.Wait()

	// Persist session tokens so the next run can skip the login
	if stateFile != "" && creds.Mode() == ajaxapi.AuthModeUser {
		if err := creds.Save(stateFile); err != nil {
			logging.Logger(nil).WithError(err).Error("saving session state")
		}
	}

	logging.Logger(nil).Info("main: exiting")
	return nil
}
