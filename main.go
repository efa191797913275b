package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/offline"
	"github.com/any-hub/shellcache/internal/proxy"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/server/routes"
	"github.com/any-hub/shellcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

// configEnvVar 可覆盖默认配置路径，优先级低于 -config。
const configEnvVar = "SHELLCACHE_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}
	logging.AttachStaticFields(logger, logrus.Fields{
		"service":    "shellcache",
		"generation": cfg.Shell.Generation,
	})

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["generation"] = cfg.Shell.Generation
		fields["store_backend"] = cfg.Global.StoreBackend
		fields["local_assets"] = len(cfg.Shell.LocalAssets)
		fields["external_assets"] = len(cfg.Shell.ExternalAssets)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → Fetcher → Worker（后台安装/激活）→ Fiber server。
	// 安装完成前 Worker 直接透传到网络。
	store, err := cache.NewStore(cfg.Global.StoreOptions())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	fetcher, err := fetch.NewHTTPFetcher(fetch.Options{
		Client:   fetch.NewClient(cfg.Global.UpstreamTimeout.DurationValue()),
		Origin:   cfg.Shell.OriginURL(),
		Upstream: cfg.Shell.UpstreamURL(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 Fetcher 失败: %v\n", err)
		return 1
	}

	worker, err := offline.New(offline.Options{
		Generation:      cfg.Shell.Generation,
		Origin:          cfg.Shell.OriginURL(),
		OfflineDocument: cfg.Shell.FallbackDocument,
		LocalAssets:     cfg.Shell.LocalAssets,
		ExternalAssets:  cfg.Shell.ExternalAssets,
		Rules:           offlineRules(cfg.Routes),
		Store:           store,
		Fetcher:         fetcher,
		Logger:          logger,
		InstallRetries:  cfg.Global.InstallRetries,
		InstallBackoff:  cfg.Global.InstallBackoff.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 Worker 失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["generation"] = cfg.Shell.Generation
	fields["origin"] = cfg.Shell.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_backend"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("generation", cfg.Shell.Generation).
				Error("worker_start_failed")
		}
	}()

	err = startHTTPServer(ctx, cfg, worker, logger)
	worker.Wait()
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnvVar)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func offlineRules(routes []config.RouteConfig) []offline.Rule {
	if len(routes) == 0 {
		return nil
	}
	rules := make([]offline.Rule, 0, len(routes))
	for _, route := range routes {
		rules = append(rules, offline.Rule{
			Strategy: route.Strategy,
			Hosts:    append([]string(nil), route.Hosts...),
		})
	}
	return rules
}

func startHTTPServer(ctx context.Context, cfg *config.Config, worker *offline.Worker, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	resolver, err := server.NewTargetResolver(cfg.Shell.OriginURL(), port)
	if err != nil {
		return err
	}

	handler := proxy.NewHandler(worker, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Resolver:   resolver,
		Proxy:      proxy.NewForwarder(handler, logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, worker)

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
