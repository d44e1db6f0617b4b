// Package app wires the service's components together from configuration.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/config"
	"github.com/qgao233/virtual-avatar-agent/internal/events"
	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/identity"
	"github.com/qgao233/virtual-avatar-agent/internal/service/llm"
	"github.com/qgao233/virtual-avatar-agent/internal/service/recognize"
	"github.com/qgao233/virtual-avatar-agent/internal/service/session"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt/dashscope"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt/google"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt/mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Cfg         *config.Config
	Logger      zerolog.Logger

	Manager    *session.Manager
	Publisher  *events.Publisher
	Realtime   *session.Handler
	Recognizer *recognize.Service
	Identity   *identity.Store
	Assistant  *llm.Assistant
}

// New constructs the application from configuration.
func New(cfg *config.Config) (*Application, error) {
	log := logging.WithComponent("application")

	publisher := events.New(&events.Config{
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
		Enabled:      cfg.Kafka.Enabled,
	})

	manager := session.NewManager()
	factory := adapterFactory(cfg)

	sessionCfg := session.Config{
		QueueCapacity:   cfg.Pipeline.QueueCapacity,
		ChunkThreshold:  cfg.Pipeline.ChunkThreshold,
		PollTimeout:     cfg.Pipeline.PollTimeout,
		DispatchTimeout: cfg.Pipeline.DispatchTimeout,
		BridgeBuffer:    cfg.Pipeline.BridgeBuffer,
		ConnectGrace:    cfg.Pipeline.ConnectGrace,
		ShutdownTimeout: cfg.Pipeline.ShutdownTimeout,
	}
	realtime := session.NewHandler(session.AdapterFactory(factory), manager, publisher, sessionCfg)

	recognizer := recognize.New(recognize.AdapterFactory(factory), recognize.Config{
		UploadDir:      cfg.Service.UploadDir,
		ChunkThreshold: cfg.Pipeline.ChunkThreshold,
	})

	store, err := identity.NewStore(cfg.Identity.VectorsPath, cfg.Identity.MatchThreshold)
	if err != nil {
		return nil, err
	}

	assistant := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})

	log.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Msg("Application created")

	return &Application{
		Cfg:        cfg,
		Logger:     log,
		Manager:    manager,
		Publisher:  publisher,
		Realtime:   realtime,
		Recognizer: recognizer,
		Identity:   store,
		Assistant:  assistant,
	}, nil
}

// adapterFactory selects the STT provider. Each call builds a fresh
// single-use adapter.
func adapterFactory(cfg *config.Config) func() stt.Adapter {
	switch cfg.STT.Provider {
	case "dashscope":
		return func() stt.Adapter {
			return dashscope.New(dashscope.Config{
				URL:          cfg.STT.URL,
				APIKey:       cfg.STT.APIKey,
				Model:        cfg.STT.Model,
				Language:     cfg.STT.Language,
				SampleRateHz: cfg.STT.SampleRateHz,
				AudioFormat:  cfg.STT.AudioFormat,
			})
		}
	case "google":
		return func() stt.Adapter {
			return google.New(google.Config{
				LanguageCode: cfg.STT.Language,
				SampleRateHz: cfg.STT.SampleRateHz,
			})
		}
	default:
		return func() stt.Adapter { return mock.New(mock.Config{}) }
	}
}

// Start performs startup work before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().Time("startupTime", a.StartupTime).Msg("Service starting")
	return nil
}

// Shutdown drains all live sessions and releases shared resources.
func (a *Application) Shutdown() {
	a.Logger.Info().Int("liveSessions", a.Manager.Count()).Msg("Service shutting down")
	a.Manager.Shutdown()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Publisher close failed")
	}
}
