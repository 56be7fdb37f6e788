package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/services"
	httphandlers "callcore/internal/handlers/http"
	"callcore/internal/infrastructure/backup"
	"callcore/internal/infrastructure/device"
	"callcore/internal/infrastructure/distributed"
	"callcore/internal/infrastructure/middleware"
	"callcore/internal/infrastructure/monitoring"
	repositories "callcore/internal/infrastructure/repositories"
	signalinfra "callcore/internal/infrastructure/signal"
	"callcore/internal/infrastructure/turn"
	webrtcinfra "callcore/internal/infrastructure/webrtc"
	"callcore/pkg/auth"
	pkgbackup "callcore/pkg/backup"
	"callcore/pkg/circuitbreaker"
	"callcore/pkg/config"
	pkgdistributed "callcore/pkg/distributed"
	"callcore/pkg/identity"
	"callcore/pkg/logger"
	"callcore/pkg/retry"
	"callcore/pkg/tracing"
	"callcore/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/callcore/config.yaml",
	"config.yaml",
}

func main() {
	startTime := time.Now()
	_ = godotenv.Load()

	cfg, path, err := config.LoadFirst(configPaths...)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("recipient", cfg.Device.Recipient, "device", cfg.Device.DeviceID)
	if path == "" {
		log.Infow("no config file found, using defaults")
	} else {
		log.Infow("loaded config", "path", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "callerd",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	// Only one process may drive a device at a time.
	if repoFactory.UsesRedis() {
		lease := pkgdistributed.NewLease(repoFactory.RedisClient(), pkgdistributed.DeviceLeaseKey(cfg.Device.Recipient, cfg.Device.DeviceID), 15*time.Second)
		log.Infow("waiting for device lease", "key", lease.Key())
		if err := lease.Acquire(ctx, time.Second); err != nil {
			log.Fatalw("failed to acquire device lease", "error", err)
		}
		defer lease.Release(context.Background())
		go func() {
			select {
			case <-lease.Lost():
				log.Errorw("device lease lost, shutting down")
				stop()
			case <-ctx.Done():
			}
		}()
	}

	callLog := repoFactory.CreateCallLogRepository()
	if cfg.Backup.Enabled && !repoFactory.UsesRedis() {
		snapshots := startSnapshots(ctx, cfg, callLog, log)
		defer snapshots.Stop()
	}

	keys, err := identity.LoadOrCreate(cfg.Device.IdentityKeyPath)
	if err != nil {
		log.Fatalw("failed to load identity key", "error", err)
	}
	log.Infow("device identity", "fingerprint", identity.Fingerprint(keys.PublicKey()))

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	token, err := issuer.Issue(cfg.Device.Recipient, cfg.Device.DeviceID)
	if err != nil {
		log.Fatalw("failed to issue device token", "error", err)
	}

	client := signalinfra.NewClient(signalinfra.ClientConfig{
		URL:            cfg.Signal.URL,
		Token:          token,
		IdentityKey:    keys.PublicKey(),
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Calls.SendTimeout,
		ReconnectDelay: cfg.Signal.ReconnectDelay,
	}, nil, log)

	var turnProvider ports.TurnServerProvider
	if cfg.Turn.Enabled {
		log.Infow("fetching TURN credentials", "url", cfg.Turn.URL, "token", utils.MaskSecret(cfg.Turn.Token, 4))
		provider := newTurnProvider(cfg, log)
		defer provider.Close()
		turnProvider = provider
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	audio := device.NewAudioRouter(log)
	visibility := device.NewAppVisibility(true)
	pstn := device.NewPstnLine()
	contacts := device.NewContacts(device.ContactsConfig{
		System:        cfg.Contacts.System,
		Blocked:       cfg.Contacts.Blocked,
		AcceptUnknown: cfg.Contacts.AcceptUnknown,
	})
	mainThread := device.NewMainThread()
	defer mainThread.Close()

	observers := []ports.StateObserver{collector}
	if repoFactory.UsesRedis() {
		bus := distributed.NewEventBus(repoFactory.RedisClient(), cfg.Redis.Channel, uuid.NewString(),
			domain.RecipientID(cfg.Device.Recipient), domain.DeviceID(cfg.Device.DeviceID), log)
		go bus.Run(ctx)
		defer bus.Close()
		observers = append(observers, bus)
	}

	engineConfig := webrtcinfra.DefaultEngineConfig()
	engineConfig.ICEServers = iceServers(cfg.WebRTC.ICEServers)
	engineConfig.PortMin, engineConfig.PortMax = cfg.WebRTC.PortRange.Min, cfg.WebRTC.PortRange.Max
	engineConfig.RingTimeout = cfg.WebRTC.RingTimeout
	engineConfig.MaxOfferAge = cfg.WebRTC.MaxOfferAge
	engineConfig.IceBatchInterval = cfg.WebRTC.IceBatchInterval
	engineConfig.IceBatchSize = cfg.WebRTC.IceBatchSize
	engineConfig.DisconnectTimeout = cfg.WebRTC.DisconnectTimeout

	managerConfig := services.DefaultManagerConfig()
	managerConfig.LocalDevice = domain.DeviceID(cfg.Device.DeviceID)
	managerConfig.LocalIdentityKey = keys.PublicKey()
	managerConfig.AlwaysTurn = cfg.Calls.AlwaysTurn
	managerConfig.DefaultIceServers = engineConfig.ICEServers
	managerConfig.SendTimeout = cfg.Calls.SendTimeout
	managerConfig.TurnTimeout = cfg.Turn.Timeout
	managerConfig.CallLogTimeout = cfg.Calls.CallLogTimeout

	manager, err := services.NewCallManager(managerConfig, services.Dependencies{
		NewEngine: func(observer ports.EngineObserver) (ports.CallEngine, error) {
			return webrtcinfra.NewEngine(observer, engineConfig, collector, log)
		},
		Signaling:     client,
		Turn:          turnProvider,
		CallLog:       callLog,
		Recipients:    contacts,
		Audio:         audio,
		PhoneLock:     device.NewPhoneLock(log),
		Foreground:    device.NewNotifications(log),
		AppForeground: visibility,
		Video: device.NewVideoFactory(device.VideoConfig{
			RTPAddress:  cfg.Media.CameraRTPAddress,
			CameraCount: cfg.Media.CameraCount,
		}, log),
		Telephony:  pstn,
		MainThread: mainThread,
		Metrics:    collector,
		Observers:  observers,
	}, log)
	if err != nil {
		log.Fatalw("failed to create call manager", "error", err)
	}
	defer manager.Close()

	client.SetHandler(manager.HandleCallMessage)
	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("relay client stopped", "error", err)
		}
	}()

	events := httphandlers.NewEventStream(manager, cfg.Auth.AllowedOrigins, log)
	defer events.Close()
	manager.AddObserver(events)

	health := monitoring.NewHealthChecker()
	health.AddCallLogCheck(callLog, 2*time.Second)
	health.AddCallCoreCheck(manager.Sync, 2*time.Second)
	if repoFactory.UsesRedis() {
		health.AddRedisCheck(repoFactory.RedisClient(), 2*time.Second)
	}
	health.AddCheck("relay", func(context.Context) error {
		if !client.Connected() {
			return errors.New("not connected to relay")
		}
		return nil
	}, time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.LoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	api := router.Group("/")
	if cfg.Control.RequireAuth {
		api.Use(middleware.AuthMiddleware(issuer))
	}
	httphandlers.NewControlHandler(
		manager,
		callLog,
		client,
		deviceControls{visibility: visibility, pstn: pstn, audio: audio},
		contacts,
		cfg.Calls.CallLogLimit,
		logger.NewContextLogger(zapLogger.With(zap.String("component", "control_api"))),
	).SetupRoutes(api)
	events.SetupRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"uptime":    time.Since(startTime).String(),
			"timestamp": time.Now().UTC(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:         cfg.Control.Address,
		Handler:      httphandlers.WithCORS(router, cfg.Auth.AllowedOrigins),
		ReadTimeout:  cfg.Control.ReadTimeout,
		WriteTimeout: cfg.Control.WriteTimeout,
	}

	go func() {
		log.Infow("starting control API", "address", cfg.Control.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("control API failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("control API shutdown failed", "error", err)
	}
	manager.LocalHangup()
	if err := manager.Sync(shutdownCtx); err != nil {
		log.Warnw("call actions still pending at shutdown", "error", err)
	}
}

// deviceControls forwards OS events reported over the control API to the
// headless device stand-ins.
type deviceControls struct {
	visibility *device.AppVisibility
	pstn       *device.PstnLine
	audio      *device.AudioRouter
}

func (d deviceControls) SetForeground(foreground bool) { d.visibility.SetForeground(foreground) }
func (d deviceControls) SetOffHook(offHook bool)       { d.pstn.SetOffHook(offHook) }
func (d deviceControls) SetWiredHeadset(plugged bool)  { d.audio.SetWiredHeadset(plugged) }

func iceServers(in []config.IceServer) []domain.IceServer {
	out := make([]domain.IceServer, 0, len(in))
	for _, s := range in {
		out = append(out, domain.IceServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func newTurnProvider(cfg *config.Config, log *zap.SugaredLogger) *turn.Provider {
	breaker := circuitbreaker.DefaultConfig()
	breaker.Name = "turn"
	breaker.FailureRatio = cfg.Turn.FailureRatio
	breaker.Timeout = cfg.Turn.BreakerTimeout

	return turn.NewProvider(turn.Config{
		URL:      cfg.Turn.URL,
		Token:    cfg.Turn.Token,
		Timeout:  cfg.Turn.Timeout,
		CacheTTL: cfg.Turn.CacheTTL,
		Retry: retry.Config{
			MaxAttempts:  cfg.Turn.MaxAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
		},
		Breaker: breaker,
		Static: domain.TurnServerInfo{
			Username: cfg.Turn.Static.Username,
			Password: cfg.Turn.Static.Credential,
			URLs:     cfg.Turn.Static.URLs,
		},
	}, log)
}

func startSnapshots(ctx context.Context, cfg *config.Config, callLog ports.CallLogRepository, log *zap.SugaredLogger) *backup.CallLogSnapshots {
	var storage pkgbackup.Storage
	switch cfg.Backup.Storage {
	case "s3":
		s3Storage, err := pkgbackup.NewS3StorageFromConfig(ctx, pkgbackup.S3Config{
			Bucket:   cfg.Backup.S3.Bucket,
			Prefix:   cfg.Backup.S3.Prefix,
			Region:   cfg.Backup.S3.Region,
			Endpoint: cfg.Backup.S3.Endpoint,
		})
		if err != nil {
			log.Fatalw("failed to open backup bucket", "bucket", cfg.Backup.S3.Bucket, "error", err)
		}
		storage = s3Storage
	default:
		fileStorage, err := pkgbackup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to open backup directory", "error", err)
		}
		storage = fileStorage
	}
	snapshots := backup.NewCallLogSnapshots(storage, callLog, backup.Config{
		Interval: cfg.Backup.Interval,
		Keep:     cfg.Backup.Keep,
	}, log)
	if n, err := snapshots.Restore(ctx); err != nil {
		log.Warnw("failed to restore call log", "error", err)
	} else if n > 0 {
		log.Infow("restored call log", "entries", n)
	}
	snapshots.Start(ctx)
	return snapshots
}
