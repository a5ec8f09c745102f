package bench

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/dSock/cmd/util"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport/base"
	"github.com/ValentinKolb/dSock/socket/transport/tcp"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"sync/atomic"
	"time"
)

var (
	benchSettings common.Settings
	BenchCmd      = &cobra.Command{
		Use:   "bench",
		Short: "Measure latency and throughput against an echo server",
		Long: `Measure latency and throughput against a server started with 'dsock serve --echo'.

The ping-pong phase sends one message and waits until it has been echoed completely before
sending the next one. The stream phase queues all messages at once and waits for all echoed bytes.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupSocketFlags(BenchCmd)

	key := "host"
	BenchCmd.PersistentFlags().String(key, "127.0.0.1", cmdUtil.WrapString("Host of the echo server"))

	key = "port"
	BenchCmd.PersistentFlags().Int(key, 9000, cmdUtil.WrapString("Port of the echo server"))

	key = "size"
	BenchCmd.PersistentFlags().Int(key, 1024, cmdUtil.WrapString("Size of a single message in bytes"))

	key = "count"
	BenchCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("Number of messages per phase"))

	key = "wait-timeout"
	BenchCmd.PersistentFlags().Duration(key, 10*time.Second, cmdUtil.WrapString("How long to wait for an echo before the benchmark is aborted"))
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
	benchSettings = settings

	if size := viper.GetInt("size"); size <= 0 || size > settings.SendBufferSize {
		return fmt.Errorf("size must be in 1..%d (got %d)", settings.SendBufferSize, size)
	}
	if viper.GetInt("count") <= 0 {
		return fmt.Errorf("count must be > 0")
	}
	return nil
}

// echoCounter counts echoed bytes and wakes up a waiting sender
type echoCounter struct {
	received atomic.Int64
	notify   chan struct{}
	meter    metrics.Meter
}

func (e *echoCounter) HandleData(data []byte, _ *conn.Connection) error {
	e.received.Add(int64(len(data)))
	e.meter.Mark(int64(len(data)))
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

// waitFor blocks until at least target bytes were echoed
func (e *echoCounter) waitFor(target int64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for e.received.Load() < target {
		select {
		case <-e.notify:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for echo (%d of %d bytes)", e.received.Load(), target)
		}
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	size := viper.GetInt("size")
	count := viper.GetInt("count")
	waitTimeout := viper.GetDuration("wait-timeout")

	registry := metrics.NewRegistry()
	latency := metrics.NewRegisteredTimer("pingpong.latency", registry)
	sent := metrics.NewRegisteredMeter("stream.bytes.sent", registry)
	echoed := &echoCounter{
		notify: make(chan struct{}, 1),
		meter:  metrics.NewRegisteredMeter("stream.bytes.echoed", registry),
	}

	client, err := tcp.NewTCPClient(viper.GetString("host"), viper.GetInt("port"), echoed, benchSettings)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	if err := client.Connect(common.DefaultConnectTimeout); err != nil {
		return err
	}

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}

	fmt.Printf("Benchmarking %s with %d messages of %d bytes\n\n", client.RemoteEndpoint(), count, size)

	// ping-pong
	var target int64
	for i := 0; i < count; i++ {
		start := time.Now()
		if err := queue(client, payload); err != nil {
			return err
		}
		target += int64(size)
		if err := echoed.waitFor(target, waitTimeout); err != nil {
			return err
		}
		latency.UpdateSince(start)
	}
	printLatency(latency)

	// stream
	start := time.Now()
	for i := 0; i < count; i++ {
		if err := queue(client, payload); err != nil {
			return err
		}
		sent.Mark(int64(size))
	}
	target += int64(size) * int64(count)
	if err := echoed.waitFor(target, waitTimeout); err != nil {
		return err
	}
	printThroughput(size*count, time.Since(start))

	if viper.GetString("log-level") == "debug" {
		metrics.WriteOnce(registry, os.Stdout)
	}
	return nil
}

func queue(client *base.Client, payload []byte) error {
	if client.State() != base.StateConnected {
		return fmt.Errorf("connection to %s lost", client.RemoteEndpoint())
	}
	return client.QueueMessage(payload)
}

func printLatency(t metrics.Timer) {
	ps := t.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Println("Ping-pong (round trip):")
	fmt.Printf("  %-10s: %d\n", "messages", t.Count())
	fmt.Printf("  %-10s: %s\n", "mean", time.Duration(t.Mean()))
	fmt.Printf("  %-10s: %s\n", "min", time.Duration(t.Min()))
	fmt.Printf("  %-10s: %s\n", "p50", time.Duration(ps[0]))
	fmt.Printf("  %-10s: %s\n", "p95", time.Duration(ps[1]))
	fmt.Printf("  %-10s: %s\n", "p99", time.Duration(ps[2]))
	fmt.Printf("  %-10s: %s\n", "max", time.Duration(t.Max()))
	fmt.Printf("  %-10s: %.0f msg/s\n\n", "rate", t.RateMean())
}

func printThroughput(bytes int, elapsed time.Duration) {
	mib := float64(bytes) / (1024 * 1024)
	fmt.Println("Stream (echoed):")
	fmt.Printf("  %-10s: %.2f MiB\n", "volume", mib)
	fmt.Printf("  %-10s: %s\n", "duration", elapsed.Round(time.Millisecond))
	fmt.Printf("  %-10s: %.2f MiB/s\n", "throughput", mib/elapsed.Seconds())
}
