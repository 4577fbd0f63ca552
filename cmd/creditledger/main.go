package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/membercraft/creditledger/app/controllers"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/cache"
	"github.com/membercraft/creditledger/internal/pkg/constants"
	"github.com/membercraft/creditledger/internal/pkg/database"
	"github.com/membercraft/creditledger/internal/pkg/env"
	"github.com/membercraft/creditledger/internal/pkg/jobqueue"
	"github.com/membercraft/creditledger/internal/pkg/ledger"
	"github.com/membercraft/creditledger/internal/pkg/metrics/counter"
	"github.com/membercraft/creditledger/internal/pkg/payments"
	"github.com/membercraft/creditledger/internal/pkg/router"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

func main() {
	app := NewApplication()
	defer jobqueue.GetManager().Stop()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	resolver := tiers.NewMappingResolver(repos.TierMapping)
	publisher := ledger.NewRedisPublisher(cache.GetClient())
	service := ledger.NewService(repos, resolver, publisher)
	gate := ledger.NewGate(service, repos)
	gate.SetCounters(counter.GateCounters{})
	pay := payments.NewService(repos.WebhookEvent, service)
	controllers.InitializeLedgerControllers(service, gate, pay)

	// Background sweep + reconcile workers
	jobqueue.InitManager(service).Start()

	app := fiber.New(fiber.Config{
		AppName: "creditledger",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
