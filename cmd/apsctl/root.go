package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/aps-client/internal/config"
	"github.com/Sternrassler/aps-client/pkg/aps"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/metrics"
)

var errUsage = errors.New("invalid usage")

// app is the state shared by all subcommands of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
	output     string

	cfg     *config.Config
	aps     *aps.Client
	redis   *redis.Client
	logger  zerolog.Logger
	metrics *http.Server
}

// newRootCmd builds the command tree. Run it with app.execute so resources
// opened by setup are released on every path.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "apsctl",
		Short: "Command-line client for Autodesk Platform Services",
		Long: `apsctl lists and uploads OSS objects, runs Design Automation work items
and drives Model Derivative translations.

Configuration is read from apsctl.yaml (working directory or
$HOME/.config/apsctl) and APS_* environment variables; flags win.

Examples:
  APS_TOKEN=... apsctl buckets
  apsctl upload models ./house.rvt
  apsctl workitem wait 4f2a...
  apsctl translate urn:adsk.objects:os.object:models/house.rvt --wait`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default apsctl.yaml)")
	flags.StringVarP(&a.output, "output", "o", "table", "Output format (table|json)")
	flags.String("token", "", "Bearer token (env APS_TOKEN)")
	flags.String("base-url", "", "APS base URL")
	flags.String("region", "", "Design Automation region")
	flags.String("redis-addr", "", "Redis address for shared throttling and job cache")
	flags.String("log-level", "", "Log level (debug|info|warn|error|disabled)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")

	bind := map[string]string{
		"token":         "token",
		"base_url":      "base-url",
		"region":        "region",
		"redis.addr":    "redis-addr",
		"logging.level": "log-level",
		"metrics.addr":  "metrics-addr",
	}
	for key, flag := range bind {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newBucketsCmd(a),
		newObjectsCmd(a),
		newUploadCmd(a),
		newActivitiesCmd(a),
		newAppBundlesCmd(a),
		newEnginesCmd(a),
		newWorkItemCmd(a),
		newTranslateCmd(a),
		newManifestCmd(a),
		newOverviewCmd(a),
	)
	return root, a
}

// execute runs root and then releases Redis and the metrics server. Cobra
// skips post-run hooks when RunE fails, so the release happens here.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.output != "table" && a.output != "json" {
		return fmt.Errorf("%w: unknown output format %q", errUsage, a.output)
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc := cfg.LoggingConfig()
	lc.Output = cmd.ErrOrStderr()
	a.logger = logging.Setup(lc)

	apsCfg := cfg.APSConfig()
	apsCfg.Logger = &a.logger

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, continuing without shared state")
			a.redis.Close()
			a.redis = nil
		} else {
			apsCfg.Redis = a.redis
		}
	}

	a.aps, err = aps.New(apsCfg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		srv := &http.Server{Handler: metrics.Handler()}
		a.metrics = srv
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}
	return nil
}

func (a *app) close() error {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
		a.metrics = nil
	}
	if a.redis != nil {
		err := a.redis.Close()
		a.redis = nil
		return err
	}
	return nil
}

func (a *app) token() string {
	return a.cfg.Token
}

// print writes v as indented JSON, or calls table when the output is a table.
func (a *app) print(w io.Writer, v any, table func(tw *tabwriter.Writer)) error {
	if a.output == "json" || table == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

// printList prints one name per line.
func (a *app) printList(w io.Writer, header string, items []string) error {
	return a.print(w, items, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, header)
		for _, it := range items {
			fmt.Fprintln(tw, it)
		}
	})
}
