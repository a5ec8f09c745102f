package serve

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dSock/cmd/util"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var Logger = logger.GetLogger(common.LoggerCLI)

var (
	serveSettings common.Settings
	ServeCmd      = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dSock server",
		Long:    `Start a TCP server that logs every received payload (hex) and optionally echoes it back. The configuration can be set via command line flags or environment variables. The format of the environment variables is DSOCK_<flag> (e.g. DSOCK_SEND_TIMEOUT=5)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupSocketFlags(ServeCmd)

	key := "port"
	ServeCmd.PersistentFlags().Int(key, 9000, cmdUtil.WrapString("The port on which the server will listen (0 = any free port)"))

	key = "backlog"
	ServeCmd.PersistentFlags().Int(key, common.DefaultBacklog, cmdUtil.WrapString("Maximum length of the queue of pending connections"))

	key = "max-connections"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Maximum number of simultaneously open connections (0 = unlimited)"))

	key = "echo"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Send every received payload back to its sender"))

	key = "print-limit"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Maximum number of bytes of a payload to print (0 = all)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the HTTP endpoint exposing prometheus metrics at /metrics (e.g. :9100, empty = disabled)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	settings, err := cmdUtil.GetSettings()
	if err != nil {
		return err
	}
	serveSettings = settings
	return nil
}

// run starts the server and blocks until SIGINT / SIGTERM
func run(_ *cobra.Command, _ []string) error {
	echo := viper.GetBool("echo")
	printLimit := viper.GetInt("print-limit")

	handler := conn.DataHandlerFunc(func(data []byte, c *conn.Connection) error {
		Logger.Infof("[%s] %s", c.RemoteEndpoint(), cmdUtil.FormatPayload(data, printLimit))
		if echo {
			return c.QueueMessage(data)
		}
		return nil
	})

	server, err := tcp.NewTCPServer(viper.GetInt("port"), handler, serveSettings)
	if err != nil {
		return err
	}

	server.RegisterConnectionEventListener(&conn.EventListenerFuncs{
		OnEstablished: func(c *conn.Connection) {
			Logger.Infof("Client %s connected (connection %s)", c.RemoteEndpoint(), c.ID())
		},
		OnClosed: func(c *conn.Connection, kind common.ErrorKind) {
			stats := c.Stats()
			Logger.Infof("Client %s disconnected (%s, %d bytes in, %d bytes out)",
				c.RemoteEndpoint(), kind, stats.BytesReceived, stats.BytesSent)
		},
	})

	fmt.Println("Configuration:")
	fmt.Println(serveSettings.String())

	if err := server.Start(viper.GetInt("backlog")); err != nil {
		return err
	}

	// optional metrics endpoint
	var metricsServer *http.Server
	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		metricsServer = startMetricsServer(endpoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	Logger.Infof("Shutting down")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return server.Shutdown()
}

func startMetricsServer(endpoint string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteMetrics(w, true)
	})

	srv := &http.Server{Addr: endpoint, Handler: mux}
	go func() {
		Logger.Infof("Serving metrics on http://%s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
	return srv
}
