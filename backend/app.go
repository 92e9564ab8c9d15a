package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/roomly/roomly/backend/geocode"
	"github.com/roomly/roomly/backend/storage"
	"github.com/roomly/roomly/backend/streamchat"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Geocoder resolves a street address to coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (geocode.Point, error)
}

// App carries every dependency the handlers need. Nothing is global.
type App struct {
	db        *sql.DB
	log       *zap.Logger
	jwtSecret []byte
	origins   []string
	publicURL string

	chat    ChatProvider
	hub     *Hub
	avatars storage.Store
	geo     Geocoder
	insight InsightGenerator

	geocodeThrottle time.Duration
}

// newApp wires the optional integrations. Each one is skipped with a log line
// when it is not configured.
func newApp(ctx context.Context, cfg Config, db *sql.DB, log *zap.Logger) (*App, error) {
	a := &App{
		db:              db,
		log:             log,
		jwtSecret:       []byte(cfg.JWTSecret),
		origins:         cfg.CORSOrigins,
		publicURL:       cfg.PublicURL,
		hub:             newHub(),
		geocodeThrottle: cfg.Maps.Throttle,
	}

	if cfg.S3.Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		a.avatars = s3Store
		log.Info("avatars stored in s3", zap.String("bucket", cfg.S3.Bucket))
	} else {
		disk, err := storage.NewDiskStore(cfg.AvatarDir)
		if err != nil {
			return nil, err
		}
		a.avatars = disk
		log.Info("avatars stored on disk", zap.String("dir", cfg.AvatarDir))
	}

	stream, err := streamchat.New(cfg.Stream, log)
	switch {
	case err == nil:
		a.chat = stream
	case errors.Is(err, streamchat.ErrNotConfigured):
		a.chat = newLocalChat(db, a.issueToken)
	default:
		return nil, err
	}
	log.Info("chat provider selected", zap.String("provider", a.chat.Name()))

	var cache geocode.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis not reachable, geocoding without cache", zap.Error(err))
		} else {
			cache = geocode.NewRedisCache(rdb, cfg.Maps.CacheTTL)
		}
	}
	geo, err := geocode.New(cfg.Maps.APIKey, cfg.Maps.BaseURL, cache, log)
	switch {
	case err == nil:
		a.geo = geo
	case errors.Is(err, geocode.ErrNotConfigured):
		log.Info("geocoding disabled, GOOGLE_MAPS_API_KEY not set")
	default:
		return nil, err
	}

	if cfg.Gemini.APIKey != "" {
		gen, err := newGeminiGenerator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		a.insight = gen
	} else {
		log.Info("match insight disabled, GEMINI_API_KEY not set")
	}

	return a, nil
}

func (a *App) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/register", a.registerHandler()).Methods(http.MethodPost)
	r.HandleFunc("/login", a.loginHandler()).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(a.authenticate, a.dataLoaderMiddleware)

	api.HandleFunc("/me", a.meHandler()).Methods(http.MethodGet)
	api.HandleFunc("/me/profile", a.getMyProfileHandler()).Methods(http.MethodGet)
	api.HandleFunc("/me/profile", a.putMyProfileHandler()).Methods(http.MethodPut)
	api.HandleFunc("/me/avatar", a.uploadAvatarHandler()).Methods(http.MethodPost)
	api.HandleFunc("/me/avatar", a.removeAvatarHandler()).Methods(http.MethodDelete)
	api.HandleFunc("/avatars/{id}", a.getAvatarHandler()).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/profile", a.publicProfileHandler()).Methods(http.MethodGet)

	api.HandleFunc("/matches", a.matchesHandler()).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}", a.matchDetailHandler()).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/insight", a.matchInsightHandler()).Methods(http.MethodGet)

	api.HandleFunc("/listings", a.createListingHandler()).Methods(http.MethodPost)
	api.HandleFunc("/listings/deck", a.deckHandler()).Methods(http.MethodGet)
	api.HandleFunc("/listings/feed", a.feedHandler()).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id}", a.getListingHandler()).Methods(http.MethodGet)
	api.HandleFunc("/listings/{id}/swipe", a.swipeHandler()).Methods(http.MethodPost)
	api.HandleFunc("/me/likes", a.likesHandler()).Methods(http.MethodGet)
	api.HandleFunc("/me/likes/{id}", a.removeLikeHandler()).Methods(http.MethodDelete)

	api.HandleFunc("/map/listings", a.mapListingsHandler()).Methods(http.MethodGet)
	api.HandleFunc("/map/geocode", a.geocodeListingsHandler()).Methods(http.MethodPost)

	api.HandleFunc("/resources", a.listResourcesHandler()).Methods(http.MethodGet)
	api.HandleFunc("/resources", a.createResourceHandler()).Methods(http.MethodPost)
	api.HandleFunc("/resources/{id}", a.getResourceHandler()).Methods(http.MethodGet)

	api.HandleFunc("/chat/token", a.chatTokenHandler()).Methods(http.MethodPost)
	api.HandleFunc("/chat/users/{id}/ensure", a.ensureChatUserHandler()).Methods(http.MethodPost)
	api.HandleFunc("/chat/dm/{id}", a.directChannelHandler()).Methods(http.MethodPost)
	api.HandleFunc("/chat/groups", a.groupChannelHandler()).Methods(http.MethodPost)
	api.HandleFunc("/ws/chat", a.wsChatHandler()).Methods(http.MethodGet)
	api.HandleFunc("/chats", a.chatSummaryHandler()).Methods(http.MethodGet)
	api.HandleFunc("/chats/{key}/messages", a.chatHistoryHandler()).Methods(http.MethodGet)
	api.HandleFunc("/chats/{key}/read", a.chatMarkReadHandler()).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
	})

	return withCORS(a.origins)(r)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
