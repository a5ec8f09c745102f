package util

import (
	"encoding/hex"
	"fmt"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Socket flags
// --------------------------------------------------------------------------

// SetupSocketFlags adds the flags of common.Settings to a command
func SetupSocketFlags(cmd *cobra.Command) {
	defaults := common.DefaultSettings()

	key := "reconnect"
	cmd.PersistentFlags().Bool(key, defaults.EnableReconnect, WrapString("Reconnect automatically after failed connects and lost connections (client only)"))

	key = "reconnect-base-ms"
	cmd.PersistentFlags().Int(key, int(defaults.ReconnectBaseInterval.Milliseconds()), WrapString("First wait before a reconnect attempt in milliseconds, doubled after every failed attempt"))

	key = "reconnect-max-ms"
	cmd.PersistentFlags().Int(key, int(defaults.ReconnectMaxInterval.Milliseconds()), WrapString("Upper bound of the reconnect wait in milliseconds"))

	key = "reconnect-max-attempts"
	cmd.PersistentFlags().Int(key, defaults.ReconnectMaxAttempts, WrapString("Consecutive reconnect attempts before giving up (0 = retry forever)"))

	key = "send-buffer"
	cmd.PersistentFlags().Int(key, defaults.SendBufferSize/1024, WrapString("Size of the send buffer in KB. This is also the maximum size of a single message"))

	key = "receive-buffer"
	cmd.PersistentFlags().Int(key, defaults.ReceiveBufferSize/1024, WrapString("Size of the receive buffer in KB"))

	key = "send-timeout"
	cmd.PersistentFlags().Int(key, int(defaults.SendTimeout.Seconds()), WrapString("Write timeout in seconds (0 = no timeout)"))

	key = "receive-timeout"
	cmd.PersistentFlags().Int(key, int(defaults.ReceiveTimeout.Seconds()), WrapString("Idle read timeout in seconds (0 = no timeout)"))

	key = "dispatch-retry-ms"
	cmd.PersistentFlags().Int(key, int(defaults.DispatchRetryDelay.Milliseconds()), WrapString("Pause of the dispatch loop after a failing data handler in milliseconds"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, defaults.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (0 = OS default)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, defaults.TCPLinger, WrapString("The linger time in seconds (-1 = OS default)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and initializes viper with the DSOCK_ env prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dsock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetSettings reads the socket settings from viper
func GetSettings() (common.Settings, error) {
	settings := common.Settings{
		EnableReconnect:       viper.GetBool("reconnect"),
		ReconnectBaseInterval: time.Duration(viper.GetInt("reconnect-base-ms")) * time.Millisecond,
		ReconnectMaxInterval:  time.Duration(viper.GetInt("reconnect-max-ms")) * time.Millisecond,
		ReconnectMaxAttempts:  viper.GetInt("reconnect-max-attempts"),
		SendBufferSize:        viper.GetInt("send-buffer") * 1024,
		ReceiveBufferSize:     viper.GetInt("receive-buffer") * 1024,
		SendTimeout:           time.Duration(viper.GetInt("send-timeout")) * time.Second,
		ReceiveTimeout:        time.Duration(viper.GetInt("receive-timeout")) * time.Second,
		DispatchRetryDelay:    time.Duration(viper.GetInt("dispatch-retry-ms")) * time.Millisecond,
		TCPNoDelay:            viper.GetBool("tcp-nodelay"),
		TCPKeepAlive:          time.Duration(viper.GetInt("tcp-keepalive")) * time.Second,
		TCPLinger:             viper.GetInt("tcp-linger"),
		MaxConnections:        viper.GetInt("max-connections"),
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// InitLogging installs the socket loggers with the configured level
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// --------------------------------------------------------------------------
// Payload helpers
// --------------------------------------------------------------------------

// ParseHexPayload decodes a hex string. Spaces, colons and a 0x prefix are ignored.
func ParseHexPayload(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	if cleaned == "" {
		return nil, fmt.Errorf("empty payload")
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %v", s, err)
	}
	return data, nil
}

// FormatPayload renders data as space separated hex bytes, truncated after limit bytes
func FormatPayload(data []byte, limit int) string {
	if limit > 0 && len(data) > limit {
		return fmt.Sprintf("% x ... (%d bytes)", data[:limit], len(data))
	}
	return fmt.Sprintf("% x", data)
}
