package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mgrandl/pacer/internal/config"
	"github.com/mgrandl/pacer/pkg/fetch"
	"github.com/mgrandl/pacer/pkg/scheduler"
	"github.com/mgrandl/pacer/pkg/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run [url ...]",
	Short: "Fetch URLs concurrently through the task scheduler",
	Args:  cobra.ArbitraryArgs,
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("urls-file", "", "file with one URL per line (# starts a comment)")
	runCmd.Flags().String("method", http.MethodGet, "HTTP method used for every request")
	runCmd.Flags().Duration("request-timeout", 30*time.Second, "per-attempt timeout; 0 disables")
	runCmd.Flags().String("cron", "", "cron expression; repeat the batch on this schedule until interrupted")

	runCmd.Flags().Int("max-concurrent-tasks", 0, "concurrent task limit; 0 = unbounded")
	runCmd.Flags().Duration("max-task-execution", 0, "per-task wall-clock budget; 0 = none")
	runCmd.Flags().Int("http-max-concurrent", 0, "in-flight request limit; 0 = unbounded")
	runCmd.Flags().Duration("http-poll-interval", 10*time.Millisecond, "fetch drive loop tick")
	runCmd.Flags().Int("http-max-retries", 0, "retries after a failed first attempt")
	runCmd.Flags().Duration("http-retry-delay", 0, "fixed delay before each retry")
	runCmd.Flags().IntSlice("http-retry-on-status", fetch.DefaultRetryStatuses(), "status codes treated as retryable failures")
	runCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	runCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("scheduler.max_concurrent_tasks", runCmd.Flags(), "max-concurrent-tasks")
	bindFlag("scheduler.max_task_execution", runCmd.Flags(), "max-task-execution")
	bindFlag("http.max_concurrent", runCmd.Flags(), "http-max-concurrent")
	bindFlag("http.poll_interval", runCmd.Flags(), "http-poll-interval")
	bindFlag("http.max_retries", runCmd.Flags(), "http-max-retries")
	bindFlag("http.retry_delay", runCmd.Flags(), "http-retry-delay")
	bindFlag("http.retry_on_status", runCmd.Flags(), "http-retry-on-status")
	bindFlag("metrics_addr", runCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", runCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load(viper.GetViper())

	urlsFile, _ := cmd.Flags().GetString("urls-file")
	method, _ := cmd.Flags().GetString("method")
	requestTimeout, _ := cmd.Flags().GetDuration("request-timeout")
	cronExpr, _ := cmd.Flags().GetString("cron")

	var schedule cron.Schedule
	if cronExpr != "" {
		var err error
		schedule, err = cron.ParseStandard(cronExpr)
		if err != nil {
			return fmt.Errorf("cron expression %q: %w", cronExpr, err)
		}
	}

	urls := append([]string(nil), args...)
	if urlsFile != "" {
		fromFile, err := readURLs(urlsFile)
		if err != nil {
			return fmt.Errorf("urls file: %w", err)
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("no urls given: pass them as arguments or via --urls-file")
	}

	runID := uuid.New().String()[:8]
	logger := buildLogger(cfg.LogLevel, "pacer").With(slog.String("run_id", runID))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "pacer", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down, cancelling remaining work...")
		runCancel()
	}()

	rec := telemetry.PromRecorder{}
	client := fetch.New(cfg.FetchConfig(), fetch.WithLogger(logger), fetch.WithRecorder(rec))
	defer client.Close()
	sched := scheduler.New(cfg.SchedulerConfig(), scheduler.WithLogger(logger), scheduler.WithRecorder(rec))

	logger.Info("pacer starting",
		slog.Int("urls", len(urls)),
		slog.Int("max_concurrent_tasks", cfg.MaxConcurrentTasks),
		slog.Int("http_max_concurrent", cfg.HTTPMaxConcurrent),
		slog.Duration("max_task_execution", cfg.MaxTaskExecution),
	)

	if schedule == nil {
		if err := runBatch(runCtx, sched, client, logger, urls, method, requestTimeout); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		return nil
	}

	for {
		next := schedule.Next(time.Now())
		logger.Info("next batch scheduled", slog.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-runCtx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := runBatch(runCtx, sched, client, logger, urls, method, requestTimeout); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Error("batch failed", slog.String("error", err.Error()))
		}
	}
}

// runBatch spawns one task per URL, drives the scheduler until every task
// has settled and logs a summary.
func runBatch(ctx context.Context, sched *scheduler.Scheduler, client *fetch.Client, logger *slog.Logger, urls []string, method string, timeout time.Duration) error {
	tracer := otel.Tracer("pacer")
	start := time.Now()

	handles := make([]*scheduler.Handle, 0, len(urls))
	for _, target := range urls {
		handles = append(handles, sched.Spawn(func(tc *scheduler.TaskContext) (any, error) {
			_, span := tracer.Start(tc, "fetch",
				trace.WithAttributes(attribute.String("url.full", target)))
			defer span.End()

			fut := client.Do(fetch.Request{Method: method, URL: target, Timeout: timeout})
			if err := tc.Await(fut); err != nil {
				span.RecordError(err)
				return nil, err
			}
			resp, err := fut.Outcome()
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			return resp, nil
		}))
	}

	if err := sched.Run(ctx); err != nil {
		return err
	}

	var completed, failed int
	for i, h := range handles {
		res, err := h.Result()
		if err != nil {
			failed++
			logger.Warn("fetch failed", slog.String("url", urls[i]), slog.String("error", err.Error()))
			continue
		}
		completed++
		if resp, ok := res.(*fetch.Response); ok {
			logger.Info("fetch completed",
				slog.String("url", urls[i]),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", resp.Attempts),
				slog.Int("bytes", len(resp.Body)),
				slog.Duration("latency", resp.Latency))
		}
	}

	logger.Info("batch finished",
		slog.Int("completed", completed),
		slog.Int("failed", failed),
		slog.Duration("took", time.Since(start)))

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(urls))
	}
	return nil
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
