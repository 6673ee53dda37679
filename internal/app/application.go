package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lenslab/vision-gateway/internal/app/cache"
	analysissvc "github.com/lenslab/vision-gateway/internal/app/services/analysis"
	chatsvc "github.com/lenslab/vision-gateway/internal/app/services/chat"
	"github.com/lenslab/vision-gateway/internal/app/services/images"
	"github.com/lenslab/vision-gateway/internal/app/services/keys"
	"github.com/lenslab/vision-gateway/internal/app/services/retention"
	translatesvc "github.com/lenslab/vision-gateway/internal/app/services/translate"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/app/storage/memory"
	"github.com/lenslab/vision-gateway/internal/app/system"
	"github.com/lenslab/vision-gateway/internal/azure/blob"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Images        storage.ImageStore
	Analyses      storage.AnalysisStore
	Conversations storage.ConversationStore
	APIKeys       storage.APIKeyStore
}

// Providers carries the optional vendor-backed dependencies. Nil fields
// leave the matching feature unconfigured; the API then answers 501 for it.
type Providers struct {
	Vision     analysissvc.VisionClient
	Completer  analysissvc.ChatCompleter
	Translator translatesvc.Client
	Blobs      blob.Store
	Cache      cache.ResultCache
}

// Options carries tunables the services accept beyond their defaults.
type Options struct {
	MaxImageBytes   int64
	RetentionMaxAge time.Duration
	SweepSchedule   string
	HistoryLimit    int
	MaxMessageChars int
	ChatMaxTokens   int
	ChatTemperature float64
	JWTSecret       []byte
	TokenTTL        time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Images    *images.Service
	Analysis  *analysissvc.Service
	Chat      *chatsvc.Service
	Translate *translatesvc.Service
	Keys      *keys.Service
	Retention *retention.Sweeper
}

// New builds a fully initialised application with the provided stores and
// providers.
func New(stores Stores, providers Providers, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Images == nil {
		stores.Images = mem
	}
	if stores.Analyses == nil {
		stores.Analyses = mem
	}
	if stores.Conversations == nil {
		stores.Conversations = mem
	}
	if stores.APIKeys == nil {
		stores.APIKeys = mem
	}

	blobs := providers.Blobs
	if blobs == nil {
		log.Warn("blob storage not configured; image bytes held in memory")
		blobs = blob.NewMemory()
	}

	manager := system.NewManager()

	var imageOpts []images.Option
	if opts.MaxImageBytes > 0 {
		imageOpts = append(imageOpts, images.WithMaxBytes(opts.MaxImageBytes))
	}
	imagesSvc := images.New(stores.Images, blobs, log, imageOpts...)

	translateSvc := translatesvc.New(log)
	if providers.Translator != nil {
		translateSvc.AttachClient(providers.Translator)
	} else {
		log.Warn("translator not configured; translation endpoints disabled")
	}

	analysisSvc := analysissvc.New(stores.Analyses, stores.Conversations, imagesSvc, log)
	analysisSvc.AttachTranslator(translateSvc)
	if providers.Vision != nil {
		analysisSvc.AttachVision(providers.Vision)
	} else {
		log.Warn("vision endpoint not configured; classic analysis disabled")
	}
	if providers.Completer != nil {
		analysisSvc.AttachCompleter(providers.Completer)
	} else {
		log.Warn("chat model not configured; enhanced analysis and chat disabled")
	}
	if providers.Cache != nil {
		analysisSvc.AttachCache(providers.Cache)
	}

	var chatOpts []chatsvc.Option
	if opts.HistoryLimit > 0 {
		chatOpts = append(chatOpts, chatsvc.WithHistoryLimit(opts.HistoryLimit))
	}
	if opts.MaxMessageChars > 0 {
		chatOpts = append(chatOpts, chatsvc.WithMaxMessageChars(opts.MaxMessageChars))
	}
	if opts.ChatMaxTokens > 0 {
		chatOpts = append(chatOpts, chatsvc.WithMaxTokens(opts.ChatMaxTokens))
	}
	if opts.ChatTemperature > 0 {
		chatOpts = append(chatOpts, chatsvc.WithTemperature(opts.ChatTemperature))
	}
	chatSvc := chatsvc.New(stores.Conversations, stores.Analyses, log, chatOpts...)
	if providers.Completer != nil {
		chatSvc.AttachCompleter(providers.Completer)
	}

	var keyOpts []keys.Option
	if opts.TokenTTL > 0 {
		keyOpts = append(keyOpts, keys.WithTokenTTL(opts.TokenTTL))
	}
	keysSvc := keys.New(stores.APIKeys, opts.JWTSecret, log, keyOpts...)

	var sweepOpts []retention.Option
	if opts.SweepSchedule != "" {
		sweepOpts = append(sweepOpts, retention.WithSchedule(opts.SweepSchedule))
	}
	sweeper := retention.NewSweeper(stores.Images, stores.Analyses, stores.Conversations, blobs, opts.RetentionMaxAge, log, sweepOpts...)

	for _, name := range []string{"images", "analysis", "chat"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:   manager,
		log:       log,
		Images:    imagesSvc,
		Analysis:  analysisSvc,
		Chat:      chatSvc,
		Translate: translateSvc,
		Keys:      keysSvc,
		Retention: sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
