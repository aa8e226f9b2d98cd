package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mt5-trader/internal/api"
	"mt5-trader/internal/engine"
	"mt5-trader/internal/events"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/market"
	"mt5-trader/internal/monitor"
	"mt5-trader/internal/notify"
	"mt5-trader/internal/order"
	"mt5-trader/internal/reconciliation"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/session"
	"mt5-trader/internal/strategy"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/broker/bridge"
	"mt5-trader/pkg/broker/paper"
	"mt5-trader/pkg/config"
	"mt5-trader/pkg/db"
	"mt5-trader/pkg/hostid"
	"mt5-trader/pkg/i18n"
)

const (
	paperBalance    = 10000.0
	paperStartPrice = 2000.0
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the terminal and trade until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Printf(i18n.Get("ConfigLoadFailed"), err)
		return err
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	i18n.SetLanguage(i18n.Language(cfg.NotifyLang))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Symbol, cfg.RiskMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	prom := monitor.NewProm()
	metrics := monitor.NewSystemMetrics()

	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Printf(i18n.Get("DBInitFailed"), err)
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Printf(i18n.Get("DBMigrationsFailed"), err)
		return err
	}

	store, err := session.Open(cfg.SessionFile)
	if err != nil {
		log.Printf(i18n.Get("SessionLoadFailed"), err)
		return err
	}

	mode, err := risk.ParseMode(cfg.RiskMode)
	if err != nil {
		return err
	}
	profiles, err := risk.LoadProfiles(cfg.RiskProfilesFile)
	if err != nil {
		return err
	}
	limits, err := profiles.Select(mode)
	if err != nil {
		return err
	}

	stratCfg, err := strategy.LoadConfig(cfg.StrategyFile)
	if err != nil {
		return err
	}

	// Terminal selection
	var term broker.Terminal
	if cfg.PaperTrading {
		log.Println(i18n.Get("PaperMode"))
		pt := paper.New(paper.Config{InitialBalance: paperBalance, Login: cfg.MT5Account, Latency: 20 * time.Millisecond})
		pt.SetSymbol(broker.SymbolInfo{
			Name:         cfg.Symbol,
			Point:        0.01,
			Digits:       2,
			Spread:       20,
			ContractSize: 100,
			VolumeMin:    0.01,
			VolumeMax:    100,
			VolumeStep:   0.01,
		})
		feed := &market.MockFeed{
			Quotes:     pt,
			Symbol:     cfg.Symbol,
			StartPrice: paperStartPrice,
			Step:       0.8,
			Spread:     0.2,
			Interval:   time.Second,
			BarPeriod:  time.Duration(cfg.Timeframe) * time.Minute,
			MaxBars:    cfg.DataBars * 2,
		}
		feed.Start(ctx)
		term = pt
	} else {
		client, err := bridge.Dial(cfg.TerminalAddr, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()
		term = client
	}

	gw := gateway.New(term, gateway.Config{
		Credentials: broker.Credentials{
			Account:  cfg.MT5Account,
			Password: cfg.MT5Password,
			Server:   cfg.MT5Server,
			Path:     cfg.MT5Path,
		},
		RequestsPerSecond: cfg.BrokerRPS,
	}, bus)

	recon := reconciliation.NewService(gw, reconciliation.Config{
		Symbol:          cfg.Symbol,
		Magic:           cfg.MagicNumber,
		Signature:       cfg.BotComment,
		NotifyOnRestart: cfg.NotifyOnRestart,
	}, reconciliation.NewEventLog(cfg.EventLogWindow, database))
	recon.DB = database
	recon.Bus = bus
	recon.Metrics = metrics

	exec := order.NewExecutor(gw, order.Config{
		Magic:     cfg.MagicNumber,
		Deviation: cfg.Deviation,
		Signature: cfg.BotComment,
	})
	exec.DB = database
	exec.Bus = bus
	exec.Metrics = metrics
	exec.Prom = prom

	riskMgr := risk.NewManager(gw, exec, recon, mode, limits)
	riskMgr.DB = database
	riskMgr.Bus = bus
	riskMgr.Prom = prom

	var source strategy.Source
	if cfg.SignalWorkerAddr != "" {
		remote, err := strategy.NewRemoteSource(cfg.SignalWorkerAddr, cfg.Symbol)
		if err != nil {
			return err
		}
		defer remote.Close()
		source = remote
	} else {
		source = strategy.NewCrossoverSource(stratCfg)
	}

	notifier := notify.Multi{notify.LogNotifier{}}
	if cfg.TelegramBotToken != "" {
		notifier = append(notifier, notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatIDs))
	}

	mon := &monitor.Monitor{Bus: bus, Sink: notifier, Prom: prom}
	mon.Start(ctx)
	dispatcher := &notify.Dispatcher{Bus: bus, Sink: notifier}
	dispatcher.Start(ctx)

	bot := engine.NewBot(engine.Config{
		Symbol:               cfg.Symbol,
		Timeframe:            broker.Timeframe(cfg.Timeframe),
		DataBars:             cfg.DataBars,
		ATRPeriod:            stratCfg.ATRPeriod,
		LotSize:              cfg.LotSize,
		MaxDailyTrades:       cfg.MaxDailyTrades,
		MaxDailyLoss:         cfg.MaxDailyLoss,
		MaxSpread:            cfg.MaxSpread,
		Sessions:             strategy.SessionFilter{London: cfg.TradeLondon, NY: cfg.TradeNY, Asian: cfg.TradeAsian},
		CheckInterval:        cfg.CheckInterval,
		NotifyOnRestart:      cfg.NotifyOnRestart,
		ForceCloseOnShutdown: cfg.ForceCloseOnShutdown,
	}, gw, recon, riskMgr, exec, store, source, notifier)
	bot.DB = database
	bot.Bus = bus
	bot.Prom = prom
	bot.Metrics = metrics

	if err := bot.Start(ctx); err != nil {
		cancel()
		dispatcher.Wait()
		return err
	}

	sched := engine.NewScheduler(engine.DefaultTick, cfg.ErrorCooldown)
	sched.Prom = prom
	sched.Metrics = metrics
	bot.Schedule(sched)
	go sched.Run(ctx)

	// Admin API
	server := api.NewServer(bot, bus, prom, metrics, api.SystemMeta{
		Env:     cfg.EnvName,
		Paper:   cfg.PaperTrading,
		Symbol:  cfg.Symbol,
		Version: version,
		HostID:  hostid.ID("mt5-trader"),
	}, cfg.AdminJWTSecret, cfg.APIRateLimit)
	httpServer := server.HTTPServer(":" + cfg.Port)
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
	cancel()
	bot.Shutdown(shutdownCtx)
	dispatcher.Wait()
	return nil
}
