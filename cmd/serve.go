package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/benbjohnson/clock"
	"github.com/fzft/go-log-collector/log"
	"github.com/fzft/go-log-collector/reactor"
	"github.com/fzft/go-log-collector/server"
	"github.com/fzft/go-log-collector/timer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const outputFlushInterval = time.Second

type serveConfig struct {
	Listen      server.ListenConfig
	Delimiter   []byte
	Ack         bool
	Output      string
	LogLevel    string
	MetricsAddr string
	MaxEvents   int
}

var (
	serveCmdConfig = &serveConfig{}
	serveCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Accept log streams over TCP",
		Long:    `Start the collector. Every flag can also be set through the environment as COLLECTOR_<FLAG> (e.g. COLLECTOR_KEEPALIVE=30), or in a .env file.`,
		PreRunE: processServeConfig,
		RunE:    runServe,
	}
)

func init() {
	key := "port"
	serveCmd.Flags().Int(key, defaultPort, wrapString("TCP port to listen on"))

	key = "bind"
	serveCmd.Flags().String(key, server.DefaultBind, wrapString("Address to bind to"))

	key = "keepalive"
	serveCmd.Flags().Int(key, 0, wrapString("Seconds a connection may stay without receiving data before it is closed. 0 keeps idle connections forever"))

	key = "backlog"
	serveCmd.Flags().Int(key, 0, wrapString("Depth of the pending connection queue. 0 uses the OS default"))

	key = "max-buffer"
	serveCmd.Flags().Int(key, 1024*1024, wrapString("Bytes a connection may send without a delimiter before it is closed. 0 disables the limit"))

	key = "delimiter"
	serveCmd.Flags().String(key, `\n`, wrapString(`Message delimiter, Go escapes allowed (e.g. \n, \r\n, \x00). Empty passes every arrival through unframed`))

	key = "ack"
	serveCmd.Flags().Bool(key, false, wrapString("Reply with ok and the delimiter after every message"))

	key = "output"
	serveCmd.Flags().String(key, "-", wrapString("File the received messages are appended to, one per line. - is stdout"))

	key = "log-level"
	serveCmd.Flags().String(key, "info", wrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "metrics-addr"
	serveCmd.Flags().String(key, "", wrapString("Address to serve Prometheus metrics on (e.g. :9100). Empty disables it"))

	key = "max-events"
	serveCmd.Flags().Int(key, reactor.DefaultMaxEvents, wrapString("Number of epoll events handled per wait"))
}

// processServeConfig reads flags and environment into serveCmdConfig.
func processServeConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	keepalive := viper.GetInt("keepalive")
	if keepalive < 0 {
		return fmt.Errorf("invalid keepalive %d: must not be negative", keepalive)
	}

	delimiter, err := parseDelimiter(viper.GetString("delimiter"))
	if err != nil {
		return err
	}

	serveCmdConfig.Listen = server.ListenConfig{
		Port:      viper.GetInt("port"),
		Bind:      viper.GetString("bind"),
		Keepalive: time.Duration(keepalive) * time.Second,
		Backlog:   viper.GetInt("backlog"),
		MaxBuffer: viper.GetInt("max-buffer"),
	}
	serveCmdConfig.Delimiter = delimiter
	serveCmdConfig.Ack = viper.GetBool("ack")
	serveCmdConfig.Output = viper.GetString("output")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.MetricsAddr = viper.GetString("metrics-addr")
	serveCmdConfig.MaxEvents = viper.GetInt("max-events")
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := serveCmdConfig
	if err := log.InitLogger(cfg.LogLevel); err != nil {
		return err
	}
	defer log.Logger.Sync()

	out, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()
	sink := newSink(out)

	loop, err := reactor.New(cfg.MaxEvents)
	if err != nil {
		return err
	}
	defer loop.Close()

	timers := timer.New(clock.New(), loop)
	defer timers.Stop()

	srv := server.New(loop, timers)
	_, err = srv.Listen(cfg.Listen, func(c *server.Conn) {
		log.Logger.Debug("client connected", zap.String("conn", c.ID()),
			zap.String("remote", c.RemoteAddr()), zap.Int("port", c.RemotePort()))
		c.OnData(cfg.Delimiter, sink.handler(c, ackFor(cfg)))
	})
	if err != nil {
		return err
	}

	timers.Schedule(outputFlushInterval, true, func() {
		if err := sink.flush(); err != nil {
			log.Logger.Error("flush output", zap.Error(err))
		}
	})

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, srv.Metrics())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	runErr := loop.Run(ctx)
	log.Logger.Info("shutting down")

	// the loop has returned, nothing else touches the server from here on
	return multierr.Combine(runErr, srv.Shutdown(), sink.flush())
}

// ackFor returns the reply sent after each message, or nil when acks are off.
func ackFor(cfg *serveConfig) []byte {
	if !cfg.Ack {
		return nil
	}
	delim := cfg.Delimiter
	if len(delim) == 0 {
		delim = []byte("\n")
	}
	return append([]byte("ok"), delim...)
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// sink buffers received messages and writes them one per line. It is only
// used from the event loop, flushing happens on a timer tick.
type sink struct {
	w   *bufio.Writer
	err error
}

func newSink(w io.Writer) *sink {
	return &sink{w: bufio.NewWriterSize(w, 64*1024)}
}

func (s *sink) write(msg []byte) error {
	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write(msg); err != nil {
		s.err = err
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *sink) flush() error {
	if s.err != nil {
		return s.err
	}
	if err := s.w.Flush(); err != nil {
		s.err = err
	}
	return s.err
}

// handler writes each message of c to the sink and optionally acknowledges it.
func (s *sink) handler(c *server.Conn, ack []byte) server.DataHandler {
	return func(msg []byte) error {
		if err := s.write(msg); err != nil {
			return fmt.Errorf("store message: %w", err)
		}
		if ack != nil {
			return c.Write(ack)
		}
		return nil
	}
}

func serveMetrics(addr string, set *metrics.Set) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	log.Logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Logger.Error("metrics server", zap.Error(err))
	}
}
