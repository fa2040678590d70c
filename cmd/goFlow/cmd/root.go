// Package cmd contains the goFlow command line interface implementation
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/els0r/goFlow/cmd/goFlow/config"
	"github.com/els0r/goFlow/pkg/flow"
	"github.com/els0r/goFlow/pkg/version"
	"github.com/els0r/telemetry/logging"
	"github.com/fako1024/gotools/concurrency"
	"github.com/google/gopacket/pcapgo"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const shutdownGracePeriod = 5 * time.Second

// memPool provides reusable buffers for the per-packet jobs handed to the
// workers
var memPool = concurrency.NewMemPoolNoLimit()

func Execute() error {
	rootCmd, err := newRootCmd(run)
	if err != nil {
		return err
	}

	rootCmd.AddCommand(newVersionCmd())

	return rootCmd.Execute()
}

// runFunc is the type of the function that is called when the root command is
// executed. It's defined mainly for testing purposes
type runFunc func(ctx context.Context, cfg *config.Config) error

const (
	flagConfig      = "config"
	flagInput       = "input"
	flagWorkers     = "workers"
	flagMaxFlows    = "max_flows"
	flagFlowLog     = "flow_log"
	flagMetricsAddr = "metrics.addr"
	flagLogLevel    = "logging.level"
	flagLogEncoding = "logging.encoding"
	flagLogDest     = "logging.destination"
)

func newRootCmd(run runFunc) (*cobra.Command, error) {
	cfg := config.New()

	rootCmd := &cobra.Command{
		Use:   "goFlow",
		Short: "goFlow tracks IP flows in network traffic read from a capture file",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			err := initConfig(cmd, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return initLogging(cfg)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	err := registerFlags(rootCmd, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to register flags: %w", err)
	}

	return rootCmd, nil
}

func registerFlags(cmd *cobra.Command, cfg *config.Config) error {
	cmd.Flags().String(flagConfig, "", "path to a JSON or YAML config file")
	cmd.Flags().StringP(flagInput, "p", cfg.Input, "pcap file to replay")
	cmd.Flags().IntP(flagWorkers, "w", cfg.Workers, "number of analysis workers")
	cmd.Flags().Uint64(flagMaxFlows, cfg.MaxFlows, "maximum number of tracked flows (0: unbounded)")
	cmd.Flags().String(flagFlowLog, cfg.FlowLog, "write the final flow table as JSON (.gz / .lz4 compressed by extension)")
	cmd.Flags().String(flagMetricsAddr, "", "expose prometheus metrics on this address while replaying")
	cmd.Flags().String(flagLogLevel, cfg.Logging.Level, "log level")
	cmd.Flags().String(flagLogEncoding, cfg.Logging.Encoding, "log encoding (logfmt / json)")
	cmd.Flags().String(flagLogDest, cfg.Logging.Destination, "log destination file (default: stderr)")

	return viper.BindPFlags(cmd.Flags())
}

// initConfig loads the config file (if any) and overlays all explicitly set
// flags
func initConfig(cmd *cobra.Command, cfg *config.Config) error {
	if path := viper.GetString(flagConfig); path != "" {
		fileCfg, err := config.ParseFile(path)
		if err != nil {
			return err
		}
		*cfg = *fileCfg
	}

	if cmd.Flags().Changed(flagInput) {
		cfg.Input = viper.GetString(flagInput)
	}
	if cmd.Flags().Changed(flagWorkers) {
		cfg.Workers = viper.GetInt(flagWorkers)
	}
	if cmd.Flags().Changed(flagMaxFlows) {
		cfg.MaxFlows = viper.GetUint64(flagMaxFlows)
	}
	if cmd.Flags().Changed(flagFlowLog) {
		cfg.FlowLog = viper.GetString(flagFlowLog)
	}
	if addr := viper.GetString(flagMetricsAddr); addr != "" {
		cfg.Metrics = &config.MetricsConfig{Addr: addr}
	}
	if cmd.Flags().Changed(flagLogLevel) {
		cfg.Logging.Level = viper.GetString(flagLogLevel)
	}
	if cmd.Flags().Changed(flagLogEncoding) {
		cfg.Logging.Encoding = viper.GetString(flagLogEncoding)
	}
	if cmd.Flags().Changed(flagLogDest) {
		cfg.Logging.Destination = viper.GetString(flagLogDest)
	}

	return nil
}

func initLogging(cfg *config.Config) error {
	loggerOpts := []logging.Option{
		logging.WithVersion(version.Short()),
	}
	if cfg.Logging.Destination != "" {
		loggerOpts = append(loggerOpts, logging.WithFileOutput(cfg.Logging.Destination))
	}

	_, err := logging.Init(
		logging.LevelFromString(cfg.Logging.Level),
		logging.Encoding(cfg.Logging.Encoding),
		loggerOpts...,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// job is the per-packet unit of work handed to the analysis workers: the
// copied IP layer of the frame. This is where DPI plug-ins would hook in;
// the stock worker only accounts.
type job struct {
	ipLayer []byte
}

// worker drains its job channel and counts the processed packets
func worker(jobs <-chan job, processed *uint64, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		*processed++
		memPool.Put(j.ipLayer)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	// optional prometheus endpoint for watching a long replay
	var metricsServer *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: time.Second}

		go func() {
			logger.With("addr", cfg.Metrics.Addr).Info("starting metrics server")
			err := metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("failed to spawn goFlow metrics server: %s", err)
			}
		}()
	}

	table := flow.NewTable()
	table.SetMax(cfg.MaxFlows)

	// spin up the workers, sharded by flow digest so each worker observes a
	// disjoint set of flows
	jobs := make([]chan job, cfg.Workers)
	processed := make([]uint64, cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		jobs[i] = make(chan job, 256)
		wg.Add(1)
		go worker(jobs[i], &processed[i], &wg)
	}

	frames, expired, err := replay(ctx, cfg.Input, table, jobs)

	for i := range jobs {
		close(jobs[i])
	}
	wg.Wait()

	if err != nil {
		return err
	}

	logger.With(
		"frames", frames,
		"flows", table.Len(),
		"hits", table.Hits(),
		"misses", table.Misses(),
		"expired", expired,
		"workers", processed,
	).Info("replay finished")

	if err := table.Infos().TablePrint(os.Stdout); err != nil {
		return fmt.Errorf("failed to print flow table: %w", err)
	}

	if cfg.FlowLog != "" {
		if err := writeFlowLog(cfg.FlowLog, table); err != nil {
			return fmt.Errorf("failed to write flow log: %w", err)
		}
		logger.With("path", cfg.FlowLog).Info("wrote flow log")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("failed to shut down metrics server: %s", err)
		}
	}

	return nil
}

// replay feeds all frames of the capture file into the table, dispatches
// per-packet jobs to the workers and drives expiry along the capture
// timeline
func replay(ctx context.Context, path string, table *flow.Table, jobs []chan job) (frames, expired uint64, err error) {
	logger := logging.Logger()

	fd, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pcap file %s: %w", path, err)
	}
	defer fd.Close()

	reader, err := pcapgo.NewReader(fd)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pcap file %s: %w", path, err)
	}

	// decode errors are expected on real-world traces (unsupported link
	// protocols, truncated captures), so reporting is rate limited
	errLimiter := rate.NewLimiter(rate.Every(time.Second), 5)
	var decodeErrors uint64

	for {
		select {
		case <-ctx.Done():
			return frames, expired, nil
		default:
		}

		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return frames, expired, fmt.Errorf("failed to read frame: %w", err)
		}

		tsUs := uint64(ci.Timestamp.UnixMicro())
		f, l3Offset, err := table.GetFull(data, 0, tsUs, true, true)
		if err != nil {
			decodeErrors++
			if errLimiter.Allow() {
				logger.With("error", err, "total", decodeErrors).Debug("failed to decode frame")
			}
			continue
		}
		frames++

		// hand the IP layer to the flow's worker
		ipLayer := memPool.Get(len(data) - l3Offset)
		copy(ipLayer, data[l3Offset:])
		tuple := f.Tuple()
		jobs[tuple.Sum64()%uint64(len(jobs))] <- job{ipLayer: ipLayer}

		// evict everything that is due at the current point of the capture
		// timeline
		for due := table.Expire(tsUs); due != nil; due = table.Expire(tsUs) {
			due.Finalize()
			expired++
		}
	}

	if decodeErrors > 0 {
		logger.With("total", decodeErrors).Warn("frames dropped by the decoder")
	}

	return frames, expired, nil
}

// writeFlowLog dumps the current flow table as JSON, compressed according
// to the file extension
func writeFlowLog(path string, table *flow.Table) error {
	fd, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer fd.Close()

	var w io.Writer = fd
	switch filepath.Ext(path) {
	case ".lz4":
		lw := lz4.NewWriter(fd)
		defer lw.Close()
		w = lw
	case ".gz":
		gw := gzip.NewWriter(fd)
		defer gw.Close()
		w = gw
	}

	return jsoniter.NewEncoder(w).Encode(table.Infos())
}
