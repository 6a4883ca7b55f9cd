package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mirror_worker/internal/logger"
	"mirror_worker/internal/mirror"
)

// Recorder 镜像投递的 Prometheus 指标
type Recorder struct {
	registry *prometheus.Registry

	received   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewRecorder 创建并注册指标
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_messages_received_total",
			Help: "Messages received from the source channel.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_deliveries_total",
			Help: "Delivery attempts to destination channels by outcome.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_delivery_duration_seconds",
			Help:    "Time from message receipt to delivery completion.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"type"}),
	}

	r.registry.MustRegister(
		r.received,
		r.deliveries,
		r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveMessage 实现 mirror.Observer
func (r *Recorder) ObserveMessage(kind mirror.Kind) {
	r.received.WithLabelValues(string(kind)).Inc()
}

// ObserveDelivery 实现 mirror.Observer
func (r *Recorder) ObserveDelivery(kind mirror.Kind, status string, latency time.Duration) {
	r.deliveries.WithLabelValues(string(kind), status).Inc()
	r.duration.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

// Handler 返回 /metrics 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server /metrics HTTP 服务
type Server struct {
	srv *http.Server
}

// StartServer 在 addr 上启动指标服务（非阻塞）
func StartServer(addr string, r *Recorder) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Errorf("Metrics server stopped: %v", err)
		}
	}()

	logger.L().Infof("Metrics server listening on %s", addr)
	return &Server{srv: srv}
}

// Close 关闭指标服务
func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
