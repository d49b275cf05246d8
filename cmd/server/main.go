package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tikiti-ke/tikiti/internal/config"
	"github.com/tikiti-ke/tikiti/internal/database"
	"github.com/tikiti-ke/tikiti/internal/handler"
	"github.com/tikiti-ke/tikiti/internal/mpesa"
	"github.com/tikiti-ke/tikiti/internal/queue"
	"github.com/tikiti-ke/tikiti/internal/ratelimit"
	"github.com/tikiti-ke/tikiti/internal/repository"
	"github.com/tikiti-ke/tikiti/internal/router"
	"github.com/tikiti-ke/tikiti/internal/store"
)

// reservationTTLMinutes is how long an unpaid reservation holds its
// admissions before the sweeper returns them to the pool.
const reservationTTLMinutes = 15

func main() {
	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable: guest checkout and rate limiting disabled")
	}

	users := repository.NewUserRepo(db)
	events := repository.NewEventRepo(db)
	tickets := repository.NewTicketRepo(db)
	transactions := repository.NewTransactionRepo(db)

	gateway := mpesa.New(mpesa.Config{
		BaseURL:        cfg.MpesaBaseURL,
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		ShortCode:      cfg.MpesaShortCode,
		Passkey:        cfg.MpesaPasskey,
		CallbackURL:    cfg.MpesaCallbackURL,
	})
	guestTokens := store.NewRedis(rdb, time.Duration(cfg.GuestTokenTTLHours)*time.Hour)
	limiter := ratelimit.NewSTKLimiter(rdb, 3, time.Minute)

	authH := handler.NewAuthHandler(cfg, users)
	eventH := handler.NewEventHandler(events)
	purchaseH := handler.NewPurchaseHandler(events, tickets, guestTokens, cfg.PublicBaseURL)
	paymentH := handler.NewPaymentHandler(events, tickets, transactions, gateway, guestTokens, limiter)

	e := echo.New() // Create Echo instance
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH)
	router.RegisterEvents(e, eventH, cfg.JWTSecret)
	router.RegisterPurchase(e, purchaseH, paymentH, cfg.JWTSecret)

	// Consume payment.confirmed in the background.
	go func() {
		if err := queue.StartPaymentConsumer(); err != nil {
			log.Printf("payment consumer stopped: %v", err)
		}
	}()

	// Sweep expired unpaid reservations back into availability.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			expired, err := tickets.ExpirePending(ctx, reservationTTLMinutes)
			cancel()
			if err != nil {
				log.Printf("expire pending reservations: %v", err)
				continue
			}
			if len(expired) > 0 {
				log.Printf("expired %d unpaid reservations", len(expired))
			}
		}
	}()

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
