// The notifier consumes ride lifecycle events from Kafka and re-publishes
// each record snapshot to the rider's Redis Pub/Sub channel. API nodes run a
// RedisBridge subscribed to those channels, so rider websockets see status
// changes regardless of which node handled the write.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/notify"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total ride lifecycle events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total invalid events received",
	})
	updatesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_updates_published_total",
		Help: "Total ride updates published to redis",
	})
	publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_publish_errors_total",
		Help: "Total redis publish errors",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, updatesPublished, publishErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-hailing-notifier"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	publisher := &redisPublisher{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var ev events.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Request == nil || ev.Request.RiderID == "" {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		if err := publishWithRetry(ctx, publisher, &ev, 3, 200*time.Millisecond); err != nil {
			publishErrors.Inc()
			log.Printf("redis publish failed for rider=%s: %v", ev.Request.RiderID, err)
			continue
		}
		updatesPublished.Inc()
	}
}

// UpdatePublisher defines the small subset of redis operations we need for
// tests and production.
type UpdatePublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisPublisher struct{ c *redis.Client }

func (r *redisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.c.Publish(ctx, channel, payload).Err()
}

// publishWithRetry pushes the record snapshot to the rider's channel with
// retry/backoff.
func publishWithRetry(ctx context.Context, pub UpdatePublisher, ev *events.Event, attempts int, delay time.Duration) error {
	payload, err := json.Marshal(ev.Request)
	if err != nil {
		return err
	}
	channel := notify.Channel(ev.Request.RiderID)
	for i := 0; i < attempts; i++ {
		if err := pub.Publish(ctx, channel, payload); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
