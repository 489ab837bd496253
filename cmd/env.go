package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/config"
	"github.com/sells-group/comms-cli/internal/customer"
	"github.com/sells-group/comms-cli/internal/extract"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/notify"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/resolve"
	"github.com/sells-group/comms-cli/internal/routing"
	"github.com/sells-group/comms-cli/internal/rules"
	"github.com/sells-group/comms-cli/internal/source"
	"github.com/sells-group/comms-cli/internal/store"
	"github.com/sells-group/comms-cli/internal/syncer"
	"github.com/sells-group/comms-cli/pkg/msgsource"
	"github.com/sells-group/comms-cli/pkg/weather"
)

// appEnv holds everything the sync, serve and route commands share.
type appEnv struct {
	Store        store.Store
	Rules        *rules.Tables
	Extractor    *extract.Engine
	Classifier   *classify.Classifier
	Ranker       *routing.Ranker
	Escalator    *routing.Escalator
	Notifier     *notify.Fanout
	Breakers     *resilience.ServiceBreakers
	Orchestrator *syncer.Orchestrator
	Gate         *syncer.Gate
}

// Close stops timers, drains the notifier and closes the store.
func (e *appEnv) Close() {
	if e.Escalator != nil {
		e.Escalator.Stop()
	}
	if e.Notifier != nil {
		if err := e.Notifier.Close(); err != nil {
			zap.L().Warn("close notifier", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and wires the pipeline. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tables, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	sinks, err := buildSinks(cfg.Notify)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	fanout := notify.NewFanout(sinks, notify.WithBuffer(cfg.Notify.Buffer))

	classifyOpts := []classify.Option{classify.WithHistory(st)}
	if cfg.Weather.BaseURL != "" {
		classifyOpts = append(classifyOpts, classify.WithWeather(weatherProvider(cfg.Weather, time.Now)))
	}

	env := &appEnv{
		Store:      st,
		Rules:      tables,
		Extractor:  extract.New(tables),
		Classifier: classify.New(tables, classifyOpts...),
		Ranker:     routing.NewRanker(tables, routingConfig(cfg.Routing)),
		Escalator:  routing.NewEscalator(fanout),
		Notifier:   fanout,
		Breakers:   resilience.NewServiceBreakers(breakerConfig(cfg.Resilience)),
	}

	matcher := customer.NewStoreMatcher(time.Duration(cfg.Sync.CustomerCacheTTL) * time.Second)
	deps := syncer.Deps{
		Store:      st,
		Resolver:   resolve.New(matcher, env.Classifier.Priority),
		Extractor:  env.Extractor,
		Classifier: env.Classifier,
		Notifier:   fanout,
		Cache:      matcher,
	}
	if cfg.Source.BaseURL != "" {
		client := msgsource.NewClient(cfg.Source.BaseURL, cfg.Source.Token,
			msgsource.WithTimeout(time.Duration(cfg.Source.TimeoutSecs)*time.Second),
			msgsource.WithRetry(retryConfig(cfg.Source.Retry)),
		)
		deps.Source = source.WithBreaker(source.NewREST(client), env.Breakers)
	} else {
		zap.L().Warn("source.base_url is not set; only dead-letter replay can import messages")
	}

	env.Orchestrator = syncer.New(syncerConfig(cfg.Sync), deps)
	env.Gate = syncer.NewGate(env.Orchestrator)

	zap.L().Info("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("rules_version", tables.Version),
		zap.Int("sinks", len(sinks)),
	)
	return env, nil
}

// errStaleWeather marks messages too old for current conditions to apply.
var errStaleWeather = eris.New("weather: message predates current conditions")

// weatherProvider adapts the forecast client to the classifier.
func weatherProvider(c config.WeatherConfig, now func() time.Time) classify.WeatherProvider {
	client := weather.NewClient(c.BaseURL,
		weather.WithTimeout(time.Duration(c.TimeoutSecs)*time.Second),
		weather.WithCacheTTL(time.Duration(c.CacheTTLSecs)*time.Second),
	)
	maxAge := time.Duration(c.MaxAgeMins) * time.Minute
	return classify.WeatherFunc(func(ctx context.Context, at model.GeoPoint, when time.Time) (classify.Weather, error) {
		if maxAge > 0 && !when.IsZero() && now().Sub(when) > maxAge {
			return classify.Weather{}, errStaleWeather
		}
		w, err := client.Current(ctx, at.Lat, at.Lon)
		if err != nil {
			return classify.Weather{}, err
		}
		return classify.Weather{TempC: w.TempC, Alerts: w.Alerts}, nil
	})
}

// buildSinks returns a sink for every configured destination.
func buildSinks(c config.NotifyConfig) ([]notify.Sink, error) {
	var sinks []notify.Sink
	closeAll := func() {
		for _, s := range sinks {
			if cl, ok := s.(interface{ Close() error }); ok {
				_ = cl.Close()
			}
		}
	}

	if c.RabbitMQ.URL != "" {
		s, err := notify.NewRabbitSink(notify.RabbitConfig{
			URL:         c.RabbitMQ.URL,
			Queue:       c.RabbitMQ.Queue,
			SplitByType: c.RabbitMQ.SplitByType,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if c.Kafka.Brokers != "" {
		s, err := notify.NewKafkaSink(notify.KafkaConfig{Brokers: []string{c.Kafka.Brokers}, Topic: c.Kafka.Topic})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if c.Slack.Token != "" {
		s, err := notify.NewSlackSink(notify.SlackConfig{Token: c.Slack.Token, Channel: c.Slack.Channel})
		if err != nil {
			closeAll()
			return nil, eris.Wrap(err, "slack sink")
		}
		sinks = append(sinks, s)
	}
	if c.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(c.Webhook.URL, c.Webhook.Secret))
	}
	return sinks, nil
}

func breakerConfig(c config.ResilienceConfig) resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(resilience.CircuitSettings{
		WindowSize:            c.WindowSize,
		MinimumCalls:          c.MinimumCalls,
		FailureRateThreshold:  c.FailureRateThreshold,
		SlowCallMs:            c.SlowCallMS,
		SlowCallRateThreshold: c.SlowCallRateThreshold,
		OpenSecs:              c.OpenSecs,
		HalfOpenProbes:        c.HalfOpenProbes,
	})
}

func retryConfig(c config.RetryConfig) resilience.RetryConfig {
	jitter := resilience.DefaultRetryConfig().JitterFraction
	return resilience.FromRetryConfig(c.MaxAttempts, c.InitialBackoffMS, c.MaxBackoffMS, c.Multiplier, jitter)
}

func syncerConfig(c config.SyncConfig) syncer.Config {
	sc := syncer.DefaultConfig()
	if c.PageSize > 0 {
		sc.PageSize = c.PageSize
	}
	if c.MaxPages > 0 {
		sc.MaxPages = c.MaxPages
	}
	if c.BatchSize > 0 {
		sc.BatchSize = c.BatchSize
	}
	if c.BatchConcurrency > 0 {
		sc.BatchConcurrency = c.BatchConcurrency
	}
	if c.BatchPauseMS > 0 {
		sc.BatchPause = time.Duration(c.BatchPauseMS) * time.Millisecond
	}
	if c.DeadLetterMax > 0 {
		sc.DeadLetterMax = c.DeadLetterMax
	}
	return sc
}

func routingConfig(c config.RoutingConfig) routing.Config {
	rc := routing.DefaultConfig()
	rc.RequireCertifiedForCritical = c.RequireCertifiedForCritical
	if c.SpeedKMH > 0 {
		rc.SpeedKMH = c.SpeedKMH
	}
	if c.Backups > 0 {
		rc.Backups = c.Backups
	}
	if c.ManagerContact != "" {
		rc.ManagerContact = c.ManagerContact
	}
	return rc
}
