package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes pgx connection pool statistics as
// Prometheus gauges labelled with the pool's name.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, name string, pool *pgxpool.Pool) error {
	labels := prometheus.Labels{"pool": name}
	gauge := func(metric, help string, value func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "stackd_pgxpool_" + metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 {
			return value(pool.Stat())
		})
	}

	collectors := []prometheus.Collector{
		gauge("acquired_conns", "Number of currently acquired connections in the pool", func(s *pgxpool.Stat) float64 {
			return float64(s.AcquiredConns())
		}),
		gauge("max_conns", "Maximum number of connections in the pool", func(s *pgxpool.Stat) float64 {
			return float64(s.MaxConns())
		}),
		gauge("total_conns", "Total number of connections in the pool", func(s *pgxpool.Stat) float64 {
			return float64(s.TotalConns())
		}),
		gauge("idle_conns", "Number of idle connections in the pool", func(s *pgxpool.Stat) float64 {
			return float64(s.IdleConns())
		}),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
