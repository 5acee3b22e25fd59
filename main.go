package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"

	"github.com/smartvend/smartvend/internal/mongo"
	"github.com/smartvend/smartvend/internal/vending"
	"github.com/smartvend/smartvend/pkg"
)

const (
	appNamespace = "VENDING"
	appName      = "vending"
	appVersion   = "0.1.0"
)

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	baseRepo := mongo.NewBaseRepo(config, logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	db := baseRepo.GetDatabase()
	if db == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}

	orderRepo := mongo.NewOrderRepo(db)
	productRepo := mongo.NewProductRepo(db)
	machineRepo := mongo.NewMachineRepo(db)
	paymentRepo := mongo.NewPaymentRepo(db)
	cartRepo := mongo.NewCartRepo(db)
	counterRepo := mongo.NewCounterRepo(db)

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	pub, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
	}

	// Machine health events ride a JetStream stream so the availability cache
	// replays retained state on startup instead of waiting for heartbeats.
	machineStream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
		URL:          natsURL,
		StreamName:   "MACHINE_EVENTS",
		Topic:        pkg.MachineStatusTopic,
		ConsumerName: appName,
		MaxAge:       24 * time.Hour,
	})
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS stream: %v", appName, appVersion, err)
	}

	machineStates := vending.NewMachineStateCache(machineRepo, logger)
	machineStatusSub := vending.NewMachineStatusSubscriber(machineStream, machineStates, logger)

	gateway := vending.NewGatewayFromConfig(config)

	coordinator := vending.NewCoordinator(vending.CoordinatorDeps{
		Orders:        orderRepo,
		Products:      productRepo,
		Machines:      machineRepo,
		Payments:      paymentRepo,
		Carts:         cartRepo,
		Counters:      counterRepo,
		Gateway:       gateway,
		MachineStates: machineStates,
		Publisher:     pub,
	}, logger)

	orderHandler := vending.NewHandler(coordinator, config, logger)
	paymentHandler := vending.NewPaymentHandler(coordinator, config, logger)
	hardwareHandler := vending.NewHardwareHandler(coordinator, config, logger)

	publisherLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	}

	streamLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return machineStream.Close()
		},
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true, // Internal API service
	})
	stack = append(stack, middleware.InternalOnly())

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: baseRepo.Stop},
		machineStatusSub,
		publisherLifecycle,
		streamLifecycle,
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", orderHandler, paymentHandler, hardwareHandler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
