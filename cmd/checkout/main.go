package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"cursos_checkout/internal/flow"
	"cursos_checkout/internal/handlers"
	"cursos_checkout/internal/models"
	"cursos_checkout/internal/services"
	"cursos_checkout/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment")
	}

	courseID := flag.String("course", "", "course ID to purchase")
	method := flag.String("method", string(models.MethodCard), "payment method (tarjeta/paypal/mercadopago/crypto/transferencia/dev)")
	amount := flag.Float64("amount", 29.99, "amount to pay")
	currency := flag.String("currency", "USD", "currency code")
	cardNumber := flag.String("card-number", "", "card number (tarjeta only)")
	cardExpiry := flag.String("card-expiry", "", "card expiry MM/YY (tarjeta only)")
	cardCVV := flag.String("card-cvv", "", "card CVV (tarjeta only)")
	verify := flag.Bool("verify", false, "re-verify the persisted attempt instead of starting a new one")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	apiURL := getEnv("COURSE_API_URL", "http://localhost:5000/api")
	listenAddr := getEnv("RETURN_LISTENER_ADDR", "127.0.0.1:8754")
	storefrontURL := getEnv("STOREFRONT_URL", "http://localhost:3000")

	kv, err := newKeyValue(logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}

	attempts := store.NewAttemptStore(kv)
	creds := services.NewCredentialLookup(kv)
	api := services.NewPaymentAPI(apiURL)

	machine := flow.NewMachine(attempts, api, creds, logger)
	machine.ReturnURL = fmt.Sprintf("http://%s/payment/return?course_id=%s", listenAddr, url.QueryEscape(*courseID))
	machine.CancelURL = fmt.Sprintf("http://%s/payment/cancel?course_id=%s", listenAddr, url.QueryEscape(*courseID))
	machine.StorefrontURL = storefrontURL
	machine.Navigate = openBrowser(logger)
	machine.Unlock = func(courseID string) {
		logger.Info("course unlocked", zap.String("course_id", courseID))
	}

	// Terminal outcomes are kept in Postgres when a DSN is configured
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := services.InitDB(dsn)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := services.AutoMigrate(db); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		machine.History = services.NewHistoryService(db)
	}

	// Local listener the gateway redirects back to
	events := make(chan handlers.ReturnEvent, 1)
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	handlers.NewPaymentReturnHandler(machine, events, logger).Register(e)
	go func() {
		if err := e.Start(listenAddr); err != nil {
			logger.Info("return listener stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt aborts the attempt, second kills the process
	go func() {
		sigChan := make(chan os.Signal, 2)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("cancellation requested")
		machine.Cancel()
		<-sigChan
		cancel()
	}()

	result := run(ctx, machine, events, logger, *courseID, *method, *amount, *currency, *cardNumber, *cardExpiry, *cardCVV, *verify)

	logger.Info("attempt finished",
		zap.String("state", string(result.State)),
		zap.String("outcome", string(result.Outcome)))
	fmt.Println(result.Message)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
}

func run(ctx context.Context, machine *flow.Machine, events <-chan handlers.ReturnEvent, logger *zap.Logger, courseID, method string, amount float64, currency, cardNumber, cardExpiry, cardCVV string, verify bool) flow.Result {
	if verify {
		result, err := machine.VerifyAgain(ctx)
		if err != nil {
			logger.Fatal("verification failed", zap.Error(err))
		}
		return result
	}

	// A load without parameters behaves like a page load: resume whatever
	// attempt is persisted before anything else.
	if courseID == "" {
		result, err := machine.Resume(ctx, "", url.Values{})
		if err != nil {
			logger.Fatal("resume failed", zap.Error(err))
		}
		if result.State == flow.StateIdle {
			result.Message = "no payment in progress; pass -course to start one"
		}
		return result
	}

	var card *services.CardDetails
	if models.PaymentMethod(method) == models.MethodCard && cardNumber != "" {
		card = &services.CardDetails{Number: cardNumber, Expiry: cardExpiry, CVV: cardCVV}
	}

	result, err := machine.Start(ctx, courseID, models.PaymentMethod(method), amount, currency, card)
	if err != nil {
		logger.Fatal("payment attempt failed", zap.Error(err))
	}

	// Suspended on an external checkout: wait for the gateway to send
	// the user back to the local listener, then reconcile.
	for result.State == flow.StateAwaitingReturn {
		select {
		case ev := <-events:
			if ev.CourseID == "" {
				ev.CourseID = courseID
			}
			result, err = machine.Resume(ctx, ev.CourseID, ev.Query)
			if err != nil {
				logger.Fatal("reconciliation failed", zap.Error(err))
			}
		case <-ctx.Done():
			result.Message = "interrupted while waiting for the gateway; rerun to resume verification"
			return result
		}
	}
	return result
}

// newKeyValue prefers Redis so attempts survive restarts; without a
// REDIS_URL the flow still works within a single process.
func newKeyValue(logger *zap.Logger) (store.KeyValue, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logger.Warn("REDIS_URL not set; attempt state will not survive restarts")
		return store.NewMemoryKV(), nil
	}
	kv, err := store.NewRedisKV(redisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("redis connection established")
	return kv, nil
}

func openBrowser(logger *zap.Logger) func(string) {
	return func(target string) {
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "darwin":
			cmd = exec.Command("open", target)
		case "windows":
			cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
		default:
			cmd = exec.Command("xdg-open", target)
		}
		if err := cmd.Start(); err != nil {
			logger.Info("open this URL to continue", zap.String("url", target))
		}
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
