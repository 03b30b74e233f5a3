package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/comm/local"
	"github.com/aukilabs/dquad/featureflag"
	dquadhttp "github.com/aukilabs/dquad/http"
	"github.com/aukilabs/dquad/models"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/dquad/smoketest"
	dquadwebsocket "github.com/aukilabs/dquad/websocket"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	modeLocal = "local"
	modeRank  = "rank"
	modeHub   = "hub"
)

var (
	// The dquad version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "dquad_info",
		Help:        "dquad information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Mode               string        `cli:""        env:"DQUAD_MODE"                 help:"Run mode (local|rank|hub)."`
	Layout             string        `cli:""        env:"DQUAD_LAYOUT"               help:"The TOML file that describes the domain decomposition."`
	Procs              int           `cli:""        env:"DQUAD_PROCS"                help:"The number of processes run in local mode."`
	HubEndpoint        string        `cli:""        env:"DQUAD_HUB_ENDPOINT"         help:"The hub endpoint where ranks connect."`
	JobID              string        `cli:""        env:"DQUAD_JOB_ID"               help:"The job uuid shared by the ranks of a job."`
	Rank               int           `cli:""        env:"DQUAD_RANK"                 help:"The rank of this process in its job."`
	Size               int           `cli:""        env:"DQUAD_SIZE"                 help:"The number of processes in the job."`
	Token              string        `cli:""        env:"DQUAD_TOKEN"                help:"The bearer token shared by the hub and its ranks."`
	Addr               string        `cli:""        env:"DQUAD_ADDR"                 help:"Listening address for rank connections."`
	AdminAddr          string        `cli:""        env:"DQUAD_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"DQUAD_PUBLIC_ENDPOINT"      help:"The public endpoint where the hub is reachable."`
	LogLevel           string        `cli:""        env:"DQUAD_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"DQUAD_LOG_INDENT"           help:"Indent logs."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"DQUAD_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle rank will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"DQUAD_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	ShutdownTimeout    time.Duration `cli:",hidden" env:"DQUAD_SHUTDOWN_TIMEOUT"     help:"The time given to servers to shut down."`
	FeatureFlags       []string      `cli:",hidden" env:"DQUAD_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool          `cli:""        env:"-"                          help:"Show version."`
	Help               bool          `cli:""        env:"-"                          help:"Show help."`
}

func main() {
	conf := config{
		Mode:               modeLocal,
		Procs:              4,
		HubEndpoint:        "ws://localhost:4100/ws",
		Addr:               ":4100",
		AdminAddr:          ":18290",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Minute * 10,
		LogSummaryInterval: time.Minute,
		ShutdownTimeout:    time.Second * 10,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Runs a distributed quad-tree partition job, or the hub relaying its ranks.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	flags := featureflag.New(conf.FeatureFlags)

	switch conf.Mode {
	case modeHub:
		serveHub(ctx, conf)

	case modeRank:
		l, err := loadLayout(conf.Layout)
		if err != nil {
			logs.Fatal(err)
		}
		runRank(ctx, conf, l, flags)

	default:
		l, err := loadLayout(conf.Layout)
		if err != nil {
			logs.Fatal(err)
		}
		runLocal(ctx, conf, l, flags)
	}
}

func runLocal(ctx context.Context, conf config, l layout, flags featureflag.FeatureFlag) {
	logs.WithTag("version", version).
		WithTag("procs", conf.Procs).
		WithTag("layout", conf.Layout).
		Info("starting local job")

	var mutex sync.Mutex
	var summaries []summary

	err := local.Run(ctx, conf.Procs, func(ctx context.Context, world *comm.Comm) error {
		s, err := run(ctx, world, l, flags)
		if err != nil {
			return err
		}

		mutex.Lock()
		defer mutex.Unlock()
		summaries = append(summaries, s)
		return nil
	})
	if err != nil {
		logs.Fatal(errors.New("running local job failed").
			WithType(errors.Type(err)).
			WithTag("procs", conf.Procs).
			Wrap(err))
	}

	sort.Slice(summaries, func(a, b int) bool {
		return summaries[a].Rank < summaries[b].Rank
	})
	for _, s := range summaries {
		printSummary(s)
	}
}

func runRank(ctx context.Context, conf config, l layout, flags featureflag.FeatureFlag) {
	logs.WithTag("version", version).
		WithTag("hub", conf.HubEndpoint).
		WithTag("job", conf.JobID).
		WithTag("rank", conf.Rank).
		WithTag("size", conf.Size).
		Info("starting rank")

	client, err := dquadwebsocket.Dial(ctx,
		conf.HubEndpoint,
		conf.JobID,
		conf.Rank,
		conf.Size,
		dquadwebsocket.WithToken(conf.Token),
	)
	if err != nil {
		logs.Fatal(err)
	}
	defer client.Close()

	s, err := run(ctx, comm.NewWorld(client), l, flags)
	if err != nil {
		logs.Fatal(errors.New("running rank failed").
			WithType(errors.Type(err)).
			WithTag("job", conf.JobID).
			WithTag("rank", conf.Rank).
			Wrap(err))
	}
	printSummary(s)
}

func serveHub(ctx context.Context, conf config) {
	jobs := &models.JobStore{}

	var service http.ServeMux
	service.HandleFunc("/health", dquadhttp.HandleHealthCheck)
	service.HandleFunc("/version", dquadhttp.HandleVersion(version))
	service.Handle("/ws", websocket.Server{
		Handshake: dquadhttp.VerifyToken(conf.Token),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h dquadwebsocket.Handler = &dquadwebsocket.RelayHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Jobs:              jobs,
			}
			h = dquadwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = dquadwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			dquadwebsocket.Handle(ctx, conn, h)
		},
	})

	readinessCheck := func() bool {
		return ctx.Err() == nil
	}
	service.HandleFunc("/ready", dquadhttp.HandleReadyCheck(readinessCheck))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", dquadhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", dquadhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/jobs", dquadhttp.VerifyTokenHandler(conf.Token, dquadhttp.HandleJobs(jobs)))
	admin.HandleFunc("/smoke-test", dquadhttp.VerifyTokenHandler(conf.Token, smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint: strings.TrimSuffix(conf.PublicEndpoint, "/") + "/ws",
		Token:    conf.Token,
		SendResult: func(ctx context.Context, res smoketest.Result) error {
			logs.WithTag("result", res).Info("smoke test done")
			return nil
		},
	})))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		Info("starting dquad hub")

	err := dquadhttp.ListenAndServe(ctx, conf.ShutdownTimeout,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			dquadhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
	if err != nil {
		logs.Fatal(err)
	}
}

func printSummary(s summary) {
	b, err := json.Marshal(s)
	if err != nil {
		logs.Fatal(errors.New("encoding summary failed").Wrap(err))
	}
	fmt.Println(string(b))
}

func validateConfig(conf config) error {
	switch conf.Mode {
	case modeHub:
		if conf.LogSummaryInterval <= 0 {
			return errors.New("the log summary interval must be positive").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("interval", conf.LogSummaryInterval)
		}
		return nil

	case modeLocal:
		if conf.Procs <= 0 {
			return errors.New("the number of processes must be positive").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("procs", conf.Procs)
		}

	case modeRank:
		if _, err := uuid.Parse(conf.JobID); err != nil {
			return errors.New("invalid job id").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("job", conf.JobID).
				Wrap(err)
		}
		if conf.Rank < 0 || conf.Rank >= conf.Size {
			return errors.New("rank is out of the job").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("rank", conf.Rank).
				WithTag("size", conf.Size)
		}

	default:
		return errors.New("unknown mode").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("mode", conf.Mode)
	}

	if conf.Layout == "" {
		return errors.New("layout file is required").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("mode", conf.Mode)
	}
	return nil
}
