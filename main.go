package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/concord-consortium/mw-sub002/internal/config"
	"github.com/concord-consortium/mw-sub002/internal/logging"
	"github.com/concord-consortium/mw-sub002/internal/server"
	"github.com/concord-consortium/mw-sub002/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	offline     bool
	urls        []string
}

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

	logger, err := logging.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Cache.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 缓存目录与上游客户端 → Loader → Fiber 或一次性加载。
	rt, err := server.Bootstrap(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer rt.Close()

	if opts.offline {
		rt.Loader.SetOfflineMode(true)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.ListenPort
	fields["storage_path"] = cfg.Cache.StoragePath
	fields["offline"] = rt.Loader.Mode().Offline
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if len(opts.urls) > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return loadURLs(ctx, rt, opts.urls)
	}

	if err := startHTTPServer(cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// loadURLs 将命令行给出的 URL 作为同一批次加载，逐行输出 "status path"。
// 直读结果保留在临时目录，供调用方读取。
func loadURLs(ctx context.Context, rt *server.Runtime, urls []string) int {
	batch := rt.Loader.BeginBatch()
	code := 0
	for _, raw := range urls {
		result, err := rt.Loader.Load(ctx, raw, batch)
		if err != nil {
			fmt.Fprintf(stdErr, "%s: %v\n", raw, err)
			code = 1
			continue
		}
		fmt.Fprintf(stdOut, "%s %s\n", result.Status, result.Path)
		if result.Advisory != nil {
			fmt.Fprintf(stdErr, "%s: using cached copy: %v\n", raw, result.Advisory)
		}
	}
	return code
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("mwcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		offline    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MWCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&offline, "offline", false, "以离线模式启动，仅使用本地缓存")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MWCACHE_CONFIG")
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
		offline:     offline,
		urls:        fs.Args(),
	}, nil
}

func startHTTPServer(cfg *config.Config, rt *server.Runtime, logger *logrus.Logger) error {
	port := cfg.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Loader:     rt.Loader,
		Batches:    rt.Batches,
		Metrics:    rt.Metrics,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf("127.0.0.1:%d", port))
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
