// Package main 提供 whanau 命令行入口
//
// 两种模式：
//   - 节点模式（默认）：启动一个长期运行的 Whanau 节点，由控制命令或调度器驱动 setup
//   - 本地网络模式（-local）：在本机启动多节点网络，跑一轮 setup 与若干次 lookup 后退出
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dep2p/go-whanau"
	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/localnet"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
)

var log = logger.Logger("whanau/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：持久化配置（协议参数、超时、控制列表）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 节点参数
	// ─────────────────────────────────────────────────────────────────────
	host         = flag.String("host", "", "监听并对外公布的主机（默认 127.0.0.1）")
	port         = flag.Int("port", 0, "监听端口（0 = 随机端口）")
	configFile   = flag.String("config", "", "配置文件路径")
	preset       = flag.String("preset", "default", "预设配置 (default/small/test)")
	identityFile = flag.String("identity", "", "身份密钥文件路径")
	peers        = flag.String("peers", "", "社交图邻居，逗号分隔的 <NodeID>@host:port")
	control      = flag.String("control", "", "允许发起控制命令的身份，逗号分隔")
	metricsAddr  = flag.String("metrics", "", "Prometheus 指标监听地址（空 = 不启用）")
	schedule     = flag.Duration("schedule", 0, "周期性 setup 的步进间隔（0 = 不启用）")
	publish      = flag.String("publish", "", "启动后发布的值，逗号分隔")

	// ─────────────────────────────────────────────────────────────────────
	// 本地网络参数
	// ─────────────────────────────────────────────────────────────────────
	local      = flag.Bool("local", false, "运行本地多节点测试网络")
	numNodes   = flag.Int("nodes", localnet.DefaultNodes, "本地网络节点数")
	numPeers   = flag.Int("degree", localnet.DefaultPeers, "每个节点随机添加的邻居数")
	numSybils  = flag.Int("sybils", 0, "本地网络 Sybil 节点数")
	numLookups = flag.Int("lookups", localnet.DefaultLookups, "本地网络 lookup 次数")
	seed       = flag.Uint64("seed", 0, "社交图随机种子（0 = 随机）")
	jsonReport = flag.Bool("json", false, "以 JSON 输出本地网络报告")

	// ─────────────────────────────────────────────────────────────────────
	// 日志参数
	// ─────────────────────────────────────────────────────────────────────
	logFile   = flag.String("log", "", "日志文件路径（空 = stderr）")
	logLevel  = flag.String("log-level", "", "全局日志级别 (debug/info/warn/error)")
	verboseFx = flag.Bool("verbose-fx", false, "输出依赖注入日志")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		printVersion()
		return nil
	}
	if *showHelp {
		printHelp()
		return nil
	}

	logHandle, err := setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v\n", err)
	}
	if logHandle != nil {
		defer func() { _ = logHandle.Close() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("📦 %s\n", whanau.VersionInfo())
	log.Info("启动 whanau", "version", whanau.Version, "commit", whanau.GitCommit, "buildDate", whanau.BuildDate)

	if *local {
		return runLocal(ctx)
	}
	return runNode(ctx)
}

// ═══════════════════════════════════════════════════════════════════════════
// 节点模式
// ═══════════════════════════════════════════════════════════════════════════

func runNode(ctx context.Context) error {
	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	fmt.Println("正在启动 whanau 节点...")
	node, err := whanau.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	for _, v := range splitAndTrim(*publish, ",") {
		if _, err := node.Publish(v); err != nil {
			return fmt.Errorf("发布 %q 失败: %w", v, err)
		}
	}

	printNodeInfo(node)
	fmt.Println("节点已启动，按 Ctrl+C 退出")
	<-ctx.Done()

	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildOptions 构建选项
//
// 配置优先级（从高到低）：
//  1. 命令行参数
//  2. 环境变量（WHANAU_* 前缀）
//  3. 配置文件
//  4. 预设默认值
func buildOptions() ([]whanau.Option, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}
	env := applyEnvOverrides(cfg)

	opts := []whanau.Option{whanau.WithConfig(cfg), whanau.WithVerboseFx(*verboseFx)}

	presetName := *preset
	if env.preset != "" && !isFlagSet("preset") {
		presetName = env.preset
	}
	// 使用配置文件且未显式指定预设时，不覆盖文件中的协议参数
	if *configFile == "" || isFlagSet("preset") || env.preset != "" {
		p := whanau.PresetByName(presetName)
		if p == nil {
			return nil, fmt.Errorf("未知预设: %s", presetName)
		}
		opts = append(opts, whanau.WithPreset(p))
	}

	if *host != "" {
		opts = append(opts, whanau.WithListenHost(*host))
	}
	if isFlagSet("port") {
		opts = append(opts, whanau.WithListenPort(*port))
	}
	if *identityFile != "" {
		opts = append(opts, whanau.WithIdentityFromFile(*identityFile))
	}
	if ps := append(splitAndTrim(*peers, ","), env.peers...); len(ps) > 0 {
		opts = append(opts, whanau.WithPeers(ps...))
	}
	if ids := splitAndTrim(*control, ","); len(ids) > 0 {
		opts = append(opts, whanau.WithControlAllowList(ids...))
	}
	if *metricsAddr != "" {
		opts = append(opts, whanau.WithMetrics(*metricsAddr))
	}
	if *schedule > 0 {
		opts = append(opts, whanau.WithScheduler(*schedule))
	}
	return opts, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 本地网络模式
// ═══════════════════════════════════════════════════════════════════════════

func runLocal(ctx context.Context) error {
	cfg := whanau.GetConfigByPreset(*preset)
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
	}
	if *host != "" {
		cfg.Listen.Host = *host
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	net := localnet.New(localnet.Config{
		Nodes:     *numNodes,
		Peers:     *numPeers,
		Sybils:    *numSybils,
		Lookups:   *numLookups,
		StartPort: *port,
		Node:      cfg,
		Seed:      *seed,
		Setup: setup.Params{
			W:  cfg.Protocol.W,
			RD: cfg.Protocol.RD,
			RF: cfg.Protocol.RF,
			RS: cfg.Protocol.RS,
		},
	})
	defer func() { _ = net.Close() }()

	start := time.Now()
	rep, err := net.Run(ctx)
	if err != nil {
		return err
	}

	if *jsonReport {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(rep.String())
	}
	log.Info("本地网络测试结束", "elapsed", time.Since(start))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 辅助函数
// ═══════════════════════════════════════════════════════════════════════════

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// setupLogging 设置日志级别与输出
func setupLogging() (*os.File, error) {
	if *logLevel != "" {
		level, ok := logger.ParseLevel(*logLevel)
		if !ok {
			return nil, fmt.Errorf("未知日志级别: %s", *logLevel)
		}
		logger.SetGlobalLevel(level)
	}

	path := *logFile
	if path == "" {
		path = os.Getenv(EnvPrefix + EnvLogFile)
	}
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	logger.SetOutput(file)
	return file, nil
}

// printNodeInfo 打印节点信息
func printNodeInfo(n *whanau.Node) {
	cfg := n.Config()
	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("  Whanau Node Started (%s)\n", whanau.Version)
	fmt.Println("╚════════════════════════════════════════════════════════════════════════╝")
	fmt.Printf("  Target:    %s\n", n.Target().Encode())
	fmt.Printf("  Protocol:  w=%d rd=%d rf=%d rs=%d layers=%d\n",
		cfg.Protocol.W, cfg.Protocol.RD, cfg.Protocol.RF, cfg.Protocol.RS, cfg.Protocol.NumLayers)
	fmt.Printf("  Peers:     %d\n", len(n.Peers()))
	fmt.Printf("  Control:   %d allowed\n", len(cfg.Control.AllowList))
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:   http://%s/metrics\n", cfg.Metrics.Addr)
	}
	if cfg.Scheduler.Enabled {
		fmt.Printf("  Scheduler: every %s\n", cfg.Scheduler.Interval.Duration())
	}
	fmt.Println()
}

func printVersion() {
	fmt.Printf("whanau %s\n", whanau.Version)
	if whanau.GitCommit != "" {
		fmt.Printf("  commit: %s\n", whanau.GitCommit)
	}
	if whanau.BuildDate != "" {
		fmt.Printf("  built:  %s\n", whanau.BuildDate)
	}
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("whanau - Sybil 抗性的分布式哈希表")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  whanau [选项]           # 节点模式")
	fmt.Println("  whanau -local [选项]    # 本地网络模式")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  WHANAU_PRESET             预设名称")
	fmt.Println("  WHANAU_LISTEN_HOST        监听主机")
	fmt.Println("  WHANAU_LISTEN_PORT        监听端口")
	fmt.Println("  WHANAU_IDENTITY_KEY_FILE  身份密钥文件")
	fmt.Println("  WHANAU_PEERS              社交图邻居（逗号分隔）")
	fmt.Println("  WHANAU_CONTROL            控制身份（逗号分隔）")
	fmt.Println("  WHANAU_LOG_FILE           日志文件路径")
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println()
	fmt.Println("  # 本地 20 节点网络，10 次 lookup")
	fmt.Println("  whanau -local -preset small")
	fmt.Println()
	fmt.Println("  # 启动节点，允许某个身份发起控制命令，每 5 分钟推进一步 setup")
	fmt.Println("  whanau -port 4001 -control <NodeID> -schedule 5m -publish hello")
}
