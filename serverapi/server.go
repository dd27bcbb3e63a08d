package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/medstay/inbox/apiframework"
	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/internal/apidoc"
	"github.com/medstay/inbox/internal/inboxapi"
	"github.com/medstay/inbox/internal/presenceapi"
	libbus "github.com/medstay/inbox/libbus"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	"github.com/medstay/inbox/libroutine"
	"github.com/medstay/inbox/libtracker"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/userdirectory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const presenceSweepKey = "presenceIndexSweep"

func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
	kvManager libkvstore.KVManager,
	directory userdirectory.Directory,
	registry *prometheus.Registry,
) (func() error, error) {
	cleanup := func() error { return nil }
	metricsTracker, err := libtracker.NewMetricsTracker(registry)
	if err != nil {
		return cleanup, fmt.Errorf("failed to register metrics: %w", err)
	}
	stdOuttracker := libtracker.NewLogActivityTracker(slog.Default())
	serveropsChainedTracker := libtracker.ChainedTracker{
		metricsTracker,
		stdOuttracker,
	}
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})
	version := apiframework.GetVersion()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Encode(w, r, http.StatusOK, apiframework.AboutServer{Version: version, NodeInstanceID: nodeInstanceID})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	doc, err := apidoc.Build(version)
	if err != nil {
		return cleanup, err
	}
	mux.HandleFunc("GET /openapi.json", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Encode(w, r, http.StatusOK, doc)
	})

	presenceConfig, err := config.PresenceConfig()
	if err != nil {
		return cleanup, err
	}
	presenceService, err := presence.New(kvManager, presenceConfig)
	if err != nil {
		return cleanup, err
	}
	presenceapi.AddPresenceRoutes(mux, presenceService)

	inboxConfig, err := config.InboxConfig()
	if err != nil {
		return cleanup, err
	}
	inboxService := inboxservice.New(dbInstance, pubsub, presenceService, directory, inboxConfig)
	inboxService = inboxservice.WithActivityTracker(inboxService, serveropsChainedTracker)
	perSecond, burst, err := config.SendLimit()
	if err != nil {
		return cleanup, err
	}
	inboxapi.AddInboxRoutes(mux, inboxService, apiframework.NewRateLimiter(perSecond, burst))

	// Liveness is computed on read; the sweep only keeps the presence index from
	// growing with identities whose heartbeat keys have expired.
	loopCtx, cancel := context.WithCancel(ctx)
	group := libroutine.GetGroup()
	group.StartLoop(
		loopCtx,
		&libroutine.LoopConfig{
			Key:          presenceSweepKey,
			Threshold:    3,
			ResetTimeout: presenceConfig.Threshold,
			Interval:     presenceConfig.Threshold,
			Operation: func(ctx context.Context) error {
				_, err := presenceService.OnlineSet(ctx)
				return err
			},
		},
	)
	cleanup = func() error {
		cancel()
		return nil
	}

	return cleanup, nil
}

// Middleware wraps the API handler with request ids and caller identity.
func Middleware(config *Config, handler http.Handler) http.Handler {
	handler = apiframework.IdentityMiddleware(config.TokenSecret, handler)
	handler = apiframework.RequestIDMiddleware(handler)
	return handler
}

type Config struct {
	DatabaseURL       string `json:"database_url"`
	Port              string `json:"port"`
	Addr              string `json:"addr"`
	NATSURL           string `json:"nats_url"`
	NATSUser          string `json:"nats_user"`
	NATSPassword      string `json:"nats_password"`
	KVAddr            string `json:"kv_addr"`
	KVPassword        string `json:"kv_password"`
	TokenSecret       string `json:"token_secret"`
	DirectoryFile     string `json:"directory_file"`
	SendTimeout       string `json:"send_timeout"`
	HeartbeatInterval string `json:"heartbeat_interval"`
	PresenceThreshold string `json:"presence_threshold"`
	SendRatePerSecond string `json:"send_rate_per_second"`
	SendBurst         string `json:"send_burst"`
	TimeZone          string `json:"time_zone"`
}

// PresenceConfig returns the heartbeat settings, defaulting what is unset.
func (c *Config) PresenceConfig() (presence.Config, error) {
	cfg := presence.DefaultConfig()
	var err error
	if cfg.Interval, err = parseDuration("heartbeat_interval", c.HeartbeatInterval, cfg.Interval); err != nil {
		return cfg, err
	}
	if cfg.Threshold, err = parseDuration("presence_threshold", c.PresenceThreshold, cfg.Threshold); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) InboxConfig() (inboxservice.Config, error) {
	cfg := inboxservice.Config{Location: time.Local}
	var err error
	if cfg.SendTimeout, err = parseDuration("send_timeout", c.SendTimeout, inboxservice.DefaultSendTimeout); err != nil {
		return cfg, err
	}
	if c.TimeZone != "" {
		if cfg.Location, err = time.LoadLocation(c.TimeZone); err != nil {
			return cfg, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
		}
	}
	return cfg, nil
}

// SendLimit returns the per-identity send rate. Defaults to 5 messages per second with a burst of 10.
func (c *Config) SendLimit() (float64, int, error) {
	perSecond, burst := 5.0, 10
	var err error
	if c.SendRatePerSecond != "" {
		if perSecond, err = strconv.ParseFloat(c.SendRatePerSecond, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid send_rate_per_second %q: %w", c.SendRatePerSecond, err)
		}
	}
	if c.SendBurst != "" {
		if burst, err = strconv.Atoi(c.SendBurst); err != nil {
			return 0, 0, fmt.Errorf("invalid send_burst %q: %w", c.SendBurst, err)
		}
	}
	return perSecond, burst, nil
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}

func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}

	return nil
}
