package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"perp-grid-bot-go/internal/config"
	"perp-grid-bot-go/internal/engine"
	"perp-grid-bot-go/internal/exchange"
	"perp-grid-bot-go/internal/logger"
	"perp-grid-bot-go/internal/models"
	"perp-grid-bot-go/internal/notifier"
	"perp-grid-bot-go/internal/persistence"
	"perp-grid-bot-go/internal/reporter"
	"perp-grid-bot-go/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file (.json or .yaml)")
	mode := flag.String("mode", "live", "running mode: live, testnet or paper")
	flag.Parse()

	// 先用默认配置初始化日志, 加载配置文件时就能记录
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	if err := applyMode(cfg, *mode); err != nil {
		logger.S().Fatal(err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode); err != nil {
		logger.S().Fatalf("机器人异常退出: %v", err)
	}
	logger.S().Info("机器人已成功停止，状态已保存。")
}

// applyMode 把命令行模式映射到交易所配置
func applyMode(cfg *models.Config, mode string) error {
	switch mode {
	case "live":
		cfg.Exchange.IsTestnet = false
	case "testnet":
		cfg.Exchange.IsTestnet = true
	case "paper":
		cfg.Exchange.Venue = "paper"
	default:
		return fmt.Errorf("未知的运行模式: %s。请选择 'live'、'testnet' 或 'paper'。", mode)
	}
	return config.Validate(cfg)
}

func run(ctx context.Context, cfg *models.Config, mode string) error {
	timeout := time.Duration(cfg.Exchange.RequestTimeout) * time.Millisecond

	transport, err := buildTransport(cfg, timeout)
	if err != nil {
		return err
	}
	if addr := os.Getenv("HYPERLIQUID_ADDRESS"); addr != "" {
		probeHyperliquid(ctx, cfg, addr, timeout)
	}

	repo, err := persistence.Open(cfg.Persistence, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		return fmt.Errorf("打开状态存储失败: %w", err)
	}
	defer repo.Close()

	var journal engine.TradeJournal
	if cfg.Engine.JournalPath != "" {
		j, err := storage.Open(cfg.Engine.JournalPath)
		if err != nil {
			return fmt.Errorf("打开成交日志失败: %w", err)
		}
		defer j.Close()
		journal = j
	}

	alerts := notifier.Multi{notifier.NewLogNotifier(logger.L())}
	if cfg.Notify.Telegram {
		tg := notifier.NewTelegram(cfg.Notify.TelegramAPI, os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"), notifier.Info)
		if tg == nil {
			logger.S().Warn("Telegram 已启用，但 TELEGRAM_BOT_TOKEN 或 TELEGRAM_CHAT_ID 未设置，仅记录日志告警。")
		} else {
			alerts = append(alerts, tg)
		}
	}

	var exporter engine.StatusExporter
	if cfg.Engine.StatusFile != "" {
		exporter = reporter.NewFileExporter(cfg.Engine.StatusFile)
	}

	eng, err := engine.New(engine.Deps{
		Config:    cfg,
		Transport: transport,
		Repo:      repo,
		Journal:   journal,
		Notifier:  alerts,
		Exporter:  exporter,
		Logger:    logger.L(),
		Mode:      mode,
	})
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("机器人启动失败: %w", err)
	}

	go readConsole(ctx, os.Stdin, eng)

	logger.S().Infof("--- 网格已启动: %s (%s)，输入 help 查看指令 ---", cfg.Grid.Pair, mode)
	return eng.Run(ctx)
}

// buildTransport 根据配置选择交易通道
func buildTransport(cfg *models.Config, timeout time.Duration) (exchange.Transport, error) {
	switch cfg.Exchange.Venue {
	case "binance":
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			return nil, errors.New("BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置")
		}
		if cfg.Exchange.IsTestnet {
			logger.S().Info("正在使用币安测试网...")
		} else {
			logger.S().Info("正在使用币安生产网...")
		}
		return exchange.NewBinanceFutures(apiKey, secretKey, cfg.Exchange.IsTestnet, timeout, logger.L()), nil
	case "paper":
		var feed exchange.PriceFeed
		switch cfg.Exchange.PriceFeed {
		case "hyperliquid":
			feed = exchange.NewHyperliquidFeed(cfg.Exchange.HyperliquidURL, cfg.Exchange.HyperliquidWS, "", timeout, logger.L())
		default:
			// 公共行情接口不需要密钥
			feed = exchange.NewBinanceFutures("", "", cfg.Exchange.IsTestnet, timeout, logger.L())
		}
		logger.S().Infof("模拟盘: 初始资金 %.2f，行情来源 %s", cfg.Exchange.PaperBalance, feedName(cfg))
		return exchange.NewPaperExchange(feed, cfg.Exchange.PaperBalance, cfg.Exchange.PaperFeeRate, logger.L()), nil
	}
	return nil, fmt.Errorf("exchange.venue %q is not supported", cfg.Exchange.Venue)
}

func feedName(cfg *models.Config) string {
	if cfg.Exchange.PriceFeed == "" {
		return "binance"
	}
	return cfg.Exchange.PriceFeed
}

// probeHyperliquid 只读地查看一个 Hyperliquid 地址的权益和挂单, 失败不影响启动
func probeHyperliquid(ctx context.Context, cfg *models.Config, addr string, timeout time.Duration) {
	hl := exchange.NewHyperliquidFeed(cfg.Exchange.HyperliquidURL, cfg.Exchange.HyperliquidWS, addr, timeout, logger.L())
	log := logger.Named("watch")

	acct, err := hl.GetAccountValue(ctx)
	if err != nil {
		log.Warn("hyperliquid watch address unavailable", zap.String("address", addr), zap.Error(err))
		return
	}
	orders, err := hl.GetOpenOrders(ctx, cfg.Grid.Pair)
	if err != nil {
		log.Warn("hyperliquid open orders unavailable", zap.String("address", addr), zap.Error(err))
	}
	log.Info("hyperliquid watch address",
		zap.String("address", addr),
		zap.Float64("accountValue", acct.Total),
		zap.Float64("unrealizedPnl", acct.UnrealizedPnL),
		zap.Int("openOrders", len(orders)))
}

// readConsole 把标准输入的每一行解析为操作指令并打印回复
func readConsole(ctx context.Context, in io.Reader, eng *engine.Engine) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, err := engine.ParseCommand(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		select {
		case reply := <-eng.SubmitCommand(cmd):
			fmt.Println(reply)
		case <-ctx.Done():
			return
		}
	}
}
