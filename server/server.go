package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Daskott/sheguard/server/auth"
	"github.com/Daskott/sheguard/server/auth/key"
	"github.com/Daskott/sheguard/server/gstorage"
	"github.com/Daskott/sheguard/server/identity"
	"github.com/Daskott/sheguard/server/logger"
	"github.com/Daskott/sheguard/server/mailer"
	"github.com/Daskott/sheguard/server/models"
	"github.com/Daskott/sheguard/server/ratelimit"
	"github.com/Daskott/sheguard/server/twilio"
	"github.com/Daskott/sheguard/server/work"
	"github.com/Daskott/sheguard/shared"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var logg *zap.SugaredLogger

func init() {
	logg = logger.NewLogger(true)
}

type App struct {
	service       *identity.Service
	store         *models.Store
	keyPair       *key.KeyPair
	storage       *gstorage.GStorage
	secureCookies bool
}

func NewRouter(app *App) *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(app.initialContextMiddleware)

	router.HandleFunc("/health", app.health).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jwks", app.jwks).Methods("GET")
	v1.HandleFunc("/auth/send-otp", app.sendOtp).Methods("POST")
	v1.HandleFunc("/auth/verify-otp", app.verifyOtp).Methods("POST")
	v1.HandleFunc("/auth/login", app.login).Methods("POST")
	v1.HandleFunc("/auth/logout", app.logout).Methods("POST")

	protected := v1.NewRoute().Subrouter()
	protected.Use(protectedRouteMiddleware)
	protected.HandleFunc("/auth/me", app.me).Methods("GET")
	protected.HandleFunc("/auth/password", app.setPassword).Methods("PUT")
	protected.HandleFunc("/users/signup", app.signup).Methods("POST")
	protected.HandleFunc("/volunteers/me", app.volunteerMe).Methods("GET")
	protected.HandleFunc("/volunteers/status", app.updateVolunteerStatus).Methods("PATCH")
	protected.HandleFunc("/volunteers/location", app.updateVolunteerLocation).Methods("PATCH")
	protected.HandleFunc("/volunteers/requests", app.volunteerRequests).Methods("GET")
	protected.HandleFunc("/victims/volunteers", app.nearbyVolunteers).Methods("GET")

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(app.adminRouteMiddleware)
	admin.HandleFunc("/volunteers/{id}/verify", app.verifyVolunteer).Methods("PATCH")
	admin.HandleFunc("/jobs", app.fetchJobs).Methods("GET")

	return router
}

func Start(config *viper.Viper, devMode bool) {
	logg = logger.NewLogger(devMode)

	serverConfig := shared.ServerConfig{}
	fatalOnError(config.Unmarshal(&serverConfig))
	fatalOnError(validate.Struct(serverConfig))
	fatalOnError(serverConfig.Google.Storage.Validate())

	configDir := configDirectory(devMode)
	backupEnabled := serverConfig.Google.Storage.BackupEnabled()

	keyPair, err := loadKeyPair(serverConfig.SheGuard.PrivateKeyPem, devMode)
	fatalOnError(err)

	var storage *gstorage.GStorage
	if serverConfig.Google.Storage.Bucket != "" {
		storage, err = gstorage.NewGStorage(
			serverConfig.Google.ApplicationCredentials,
			serverConfig.Google.Storage.Bucket,
			serverConfig.Google.Storage.Prefix,
			logg,
		)
		fatalOnError(err)
	}

	if backupEnabled {
		dbDir, err := models.DbDirectory(configDir)
		fatalOnError(err)
		fatalOnError(restoreSqliteDb(storage, filepath.Join(dbDir, models.DB_NAME)))
	}

	store, err := models.Open(serverConfig.Sqlite.PassPhrase, configDir)
	fatalOnError(err)

	var uploader identity.ImageUploader
	if storage != nil {
		uploader = storage
	} else {
		localStorage, err := gstorage.NewLocalStorage(configDir)
		fatalOnError(err)
		uploader = localStorage
	}

	limiter, err := newLimiter(serverConfig)
	fatalOnError(err)

	var emails emailSender
	if serverConfig.Smtp.Enabled() {
		emails = mailer.NewMailer(serverConfig.Smtp)
	}

	var sms smsSender
	if serverConfig.Twilio.Enabled() {
		sms = twilio.NewClient(serverConfig.Twilio)
	}

	tokens := auth.NewTokenManager(keyPair, time.Now)
	workerPool := work.NewWorkerAdapter(store, serverConfig.SheGuard.Cron.TimeZone, logg)

	app := &App{
		store:         store,
		keyPair:       keyPair,
		storage:       storage,
		secureCookies: !devMode,
	}

	serviceConfig := identity.Config{
		Store:      store,
		Dispatcher: &jobDispatcher{jobs: workerPool},
		Uploader:   uploader,
		Tokens:     tokens,
		Logger:     logg,
		ExposeOtp:  serverConfig.SheGuard.ExposeOtp,
		Admins:     serverConfig.SheGuard.Admins,
	}
	if limiter != nil {
		serviceConfig.Limiter = limiter
	}
	app.service = identity.NewService(serviceConfig)

	registerJobHandlers(app, workerPool, emails, sms)
	enqueuePeriodicJobs(workerPool, serverConfig.Google.Storage.SqliteBackupSchedule, backupEnabled)
	workerPool.Start()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", serverConfig.SheGuard.Listener.Port),
		Handler: NewRouter(app),
	}

	go serve(server)

	// Setting up signal capturing
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Waiting for SIGINT (kill -2) or SIGTERM
	<-stop

	cleanup(app, workerPool, server, backupEnabled)
}

// loadKeyPair parses the configured signing key. In dev mode an empty key is
// replaced by a throwaway one.
func loadKeyPair(privateKeyPem string, devMode bool) (*key.KeyPair, error) {
	if privateKeyPem != "" {
		return key.NewKeyPairFromRSAPrivateKeyPem([]byte(privateKeyPem))
	}

	if !devMode {
		return nil, errors.New("sheguard.privateKeyPem is required")
	}

	logg.Warn("No private key configured, generating a temporary signing key")
	return key.GenerateKeyPair(2048)
}

func newLimiter(serverConfig shared.ServerConfig) (*ratelimit.RedisLimiter, error) {
	if serverConfig.Redis.Addr == "" || serverConfig.Otp.MaxAttempts == 0 {
		return nil, nil
	}

	window := 15 * time.Minute
	if serverConfig.Otp.Window != "" {
		parsed, err := time.ParseDuration(serverConfig.Otp.Window)
		if err != nil {
			return nil, errors.Wrap(err, "otp.window")
		}
		window = parsed
	}

	client, err := ratelimit.NewRedisClient(
		context.Background(),
		serverConfig.Redis.Addr,
		serverConfig.Redis.Password,
		serverConfig.Redis.DB,
	)
	if err != nil {
		return nil, errors.Wrap(err, "redis")
	}

	return ratelimit.NewRedisLimiter(client, serverConfig.Otp.MaxAttempts, window), nil
}
