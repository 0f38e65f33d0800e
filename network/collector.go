package network

import "github.com/prometheus/client_golang/prometheus"

// StatsSource is anything that reports per connection stats: a Net, or a
// type owning one.
type StatsSource interface {
	GetStats() NetStats
}

// Collector exports the connection stats of a StatsSource, labelled by
// connection name.
type Collector struct {
	src        StatsSource
	peers      *prometheus.Desc
	readBuffer *prometheus.Desc
	writeBatch *prometheus.Desc
	writes     *prometheus.Desc
}

func NewCollector(subsystem string, src StatsSource) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName("roomsync", subsystem, n)
	}
	return &Collector{
		src:        src,
		peers:      prometheus.NewDesc(name("peers"), "Live connections", nil, nil),
		readBuffer: prometheus.NewDesc(name("read_buffer_bytes"), "Bytes read but not yet split into payloads", []string{"peer"}, nil),
		writeBatch: prometheus.NewDesc(name("write_batch_bytes"), "Moving average of bytes per socket write", []string{"peer"}, nil),
		writes:     prometheus.NewDesc(name("writes_total"), "Socket writes", []string{"peer"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peers
	ch <- c.readBuffer
	ch <- c.writeBatch
	ch <- c.writes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.GetStats()
	ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(len(stats)))
	for name, s := range stats {
		ch <- prometheus.MustNewConstMetric(c.readBuffer, prometheus.GaugeValue, float64(s.ReadBuffer), name)
		ch <- prometheus.MustNewConstMetric(c.writeBatch, prometheus.GaugeValue, s.WriteBatch, name)
		ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.Writes), name)
	}
}
