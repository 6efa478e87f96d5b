// Package metrics holds the relay's prometheus collectors.
package metrics

import (
	"net/http"
	"phantom_chat/internal/model"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	roomsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "phantom_rooms_created_total",
			Help: "Number of rooms created",
		},
	)
	roomsDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phantom_rooms_destroyed_total",
			Help: "Number of rooms destroyed, by reason",
		},
		[]string{"reason"},
	)
	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phantom_admissions_total",
			Help: "Number of admission attempts, by result",
		},
		[]string{"result"},
	)
	messagesAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "phantom_messages_appended_total",
			Help: "Number of encrypted messages appended",
		},
	)
	keyMaterial = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phantom_key_material_total",
			Help: "Number of key exchange submissions, by kind",
		},
		[]string{"kind"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "phantom_websocket_subscribers",
			Help: "Number of open websocket event streams",
		},
	)

	registry = prometheus.NewRegistry()
	once     sync.Once
)

const (
	AdmissionNew      = "admitted"
	AdmissionExisting = "existing"
	AdmissionFull     = "full"
	AdmissionNotFound = "not_found"

	KindPublicKeys    = "public_keys"
	KindEncapsulation = "encapsulation"
)

// Init registers every collector. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			roomsCreated,
			roomsDestroyed,
			admissions,
			messagesAppended,
			keyMaterial,
			subscribers,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RoomCreated() {
	roomsCreated.Inc()
}

func RoomDestroyed(reason model.DestroyReason) {
	roomsDestroyed.WithLabelValues(string(reason)).Inc()
}

func Admission(result string) {
	admissions.WithLabelValues(result).Inc()
}

func MessageAppended() {
	messagesAppended.Inc()
}

func KeyMaterial(kind string) {
	keyMaterial.WithLabelValues(kind).Inc()
}

func SubscriberOpened() {
	subscribers.Inc()
}

func SubscriberClosed() {
	subscribers.Dec()
}
