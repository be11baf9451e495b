package serve

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/sablekv/sable/cmd/util"
	"github.com/sablekv/sable/lib/logging"
	"github.com/sablekv/sable/lib/server"
)

var (
	serveCmdConfig = server.DefaultConfig()
	logger         = logging.GetLogger("serve")

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start the sable server",
		Long:    `Start the sable server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is SABLE_<flag> (e.g. SABLE_ENDPOINT=0.0.0.0:1234)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:1234", cmdUtil.WrapString("The address on which the server will listen"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address for the Prometheus /metrics endpoint (e.g. localhost:9100). Empty disables it"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	level, err := logging.ParseLogLevel(serveCmdConfig.LogLevel)
	if err != nil {
		return err
	}
	logging.SetAllLevels(level)

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	s := server.New(serveCmdConfig)

	logger.Infof("starting sable server")
	logger.Infof("%s", serveCmdConfig.String())

	if err := s.Listen(); err != nil {
		return err
	}

	// optional Prometheus endpoint on a side listener
	if serveCmdConfig.MetricsEndpoint != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
				metrics.WritePrometheus(w, true)
			})
			logger.Infof("metrics on http://%s/metrics", serveCmdConfig.MetricsEndpoint)
			if err := http.ListenAndServe(serveCmdConfig.MetricsEndpoint, mux); err != nil {
				logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	// stop the loop on SIGINT/SIGTERM
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Infof("received %s, shutting down", sig)
		s.Stop()
	}()

	return s.Serve()
}
