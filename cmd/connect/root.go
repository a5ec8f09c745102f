package connect

import (
	"bufio"
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dSock/cmd/util"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport/base"
	"github.com/ValentinKolb/dSock/socket/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var Logger = logger.GetLogger(common.LoggerCLI)

var (
	connectSettings common.Settings
	ConnectCmd      = &cobra.Command{
		Use:   "connect",
		Short: "Connect to a dSock server and send data",
		Long: `Connect to a TCP server and print every received payload (hex).
Without --interval every line read from stdin is sent as one message. With --interval the hex
--payload is sent periodically (e.g. --payload 0101000300ffff --interval 100ms).`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupSocketFlags(ConnectCmd)

	key := "host"
	ConnectCmd.PersistentFlags().String(key, "127.0.0.1", cmdUtil.WrapString("Host of the server"))

	key = "port"
	ConnectCmd.PersistentFlags().Int(key, 9000, cmdUtil.WrapString("Port of the server"))

	key = "timeout"
	ConnectCmd.PersistentFlags().Int(key, int(common.DefaultConnectTimeout.Seconds()), cmdUtil.WrapString("Connect timeout in seconds"))

	key = "payload"
	ConnectCmd.PersistentFlags().String(key, "0101000300ffff", cmdUtil.WrapString("Hex encoded payload sent with --interval"))

	key = "interval"
	ConnectCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Send --payload periodically with this interval instead of reading stdin (0 = read stdin)"))

	key = "count"
	ConnectCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of payloads sent with --interval (0 = until interrupted)"))
}

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
	connectSettings = settings
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	handler := conn.DataHandlerFunc(func(data []byte, c *conn.Connection) error {
		fmt.Printf("< %s\n", cmdUtil.FormatPayload(data, 0))
		return nil
	})

	client, err := tcp.NewTCPClient(viper.GetString("host"), viper.GetInt("port"), handler, connectSettings)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	client.RegisterConnectionEventListener(&conn.EventListenerFuncs{
		OnEstablished: func(c *conn.Connection) {
			Logger.Infof("Connected to %s (local %s)", c.RemoteEndpoint(), c.LocalEndpoint())
		},
		OnClosed: func(c *conn.Connection, kind common.ErrorKind) {
			Logger.Warningf("Connection to %s closed (%s)", c.RemoteEndpoint(), kind)
		},
		OnFailed: func(endpoint common.Endpoint, kind common.ErrorKind) {
			Logger.Warningf("Connect to %s failed (%s)", endpoint, kind)
		},
	})

	timeout := time.Duration(viper.GetInt("timeout")) * time.Second
	if err := client.Connect(timeout); err != nil && !connectSettings.EnableReconnect {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := viper.GetDuration("interval"); interval > 0 {
		payload, err := cmdUtil.ParseHexPayload(viper.GetString("payload"))
		if err != nil {
			return err
		}
		return sendPeriodically(ctx, client, payload, interval, viper.GetInt("count"))
	}
	return sendStdin(ctx, client)
}

// sendPeriodically queues payload every interval until count payloads were sent or ctx is done
func sendPeriodically(ctx context.Context, client *base.Client, payload []byte, interval time.Duration, count int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count <= 0 || sent < count; {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if client.State() != base.StateConnected {
			continue
		}
		if err := client.QueueMessage(payload); err != nil {
			return err
		}
		sent++
		fmt.Printf("> %s\n", cmdUtil.FormatPayload(payload, 0))
	}

	// give the send loop a moment to flush
	time.Sleep(interval)
	return nil
}

// sendStdin queues every line read from stdin (including the newline)
func sendStdin(ctx context.Context, client *base.Client) error {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), client.Settings().SendBufferSize)
		for scanner.Scan() {
			line := append(scanner.Bytes(), '\n')
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := client.QueueMessage(line); err != nil {
				Logger.Errorf("Failed to queue message: %v", err)
			}
		}
	}
}
