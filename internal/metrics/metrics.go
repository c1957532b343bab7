package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobert/chaosgarden/internal/tempo"
)

// PrerenderPoolProvider exposes pre-render buffer pool occupancy.
type PrerenderPoolProvider interface {
	Size() int
	Occupied() int
}

// LatentJobProvider exposes the latent lifecycle's running-job count.
type LatentJobProvider interface {
	RunningCount() int
}

// PlaybackProvider exposes the playback engine's transport and graph state.
type PlaybackProvider interface {
	TransportStateLabel() string
	PositionBeat() tempo.Beat
	Generation() uint64
	FailedNodeCount() int
}

// ParticipantProvider exposes the participant registry's online/total
// counts.
type ParticipantProvider interface {
	OnlineCount() int
	TotalCount() int
}

// Collector is a prometheus.Collector that gathers chaosgarden metrics at
// scrape time.
type Collector struct {
	prerender   PrerenderPoolProvider
	latent      LatentJobProvider
	playback    PlaybackProvider
	participant ParticipantProvider
	startTime   time.Time

	// Metric descriptors.
	prerenderSlotsDesc      *prometheus.Desc
	prerenderOccupiedDesc   *prometheus.Desc
	latentRunningDesc       *prometheus.Desc
	playbackPositionDesc    *prometheus.Desc
	playbackGenerationDesc  *prometheus.Desc
	playbackTransportDesc   *prometheus.Desc
	playbackFailedNodesDesc *prometheus.Desc
	participantOnlineDesc   *prometheus.Desc
	participantTotalDesc    *prometheus.Desc
	uptimeDesc              *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	prerender PrerenderPoolProvider,
	latent LatentJobProvider,
	playback PlaybackProvider,
	participant ParticipantProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		prerender:   prerender,
		latent:      latent,
		playback:    playback,
		participant: participant,
		startTime:   startTime,

		prerenderSlotsDesc: prometheus.NewDesc(
			"chaosgarden_prerender_pool_slots",
			"Total number of pre-allocated pre-render buffer slots",
			nil, nil,
		),
		prerenderOccupiedDesc: prometheus.NewDesc(
			"chaosgarden_prerender_pool_occupied",
			"Number of pre-render buffer slots currently claimed",
			nil, nil,
		),
		latentRunningDesc: prometheus.NewDesc(
			"chaosgarden_latent_jobs_running",
			"Number of latent regions currently in the Running state",
			nil, nil,
		),
		playbackPositionDesc: prometheus.NewDesc(
			"chaosgarden_playback_position_beats",
			"Current playback position in beats",
			nil, nil,
		),
		playbackGenerationDesc: prometheus.NewDesc(
			"chaosgarden_playback_generation",
			"Compiled-graph generation counter, bumped on recompile or seek",
			nil, nil,
		),
		playbackTransportDesc: prometheus.NewDesc(
			"chaosgarden_playback_transport_state",
			"Current transport state (1=active for this state's label, 0=other)",
			[]string{"state"}, nil,
		),
		playbackFailedNodesDesc: prometheus.NewDesc(
			"chaosgarden_playback_failed_nodes",
			"Number of graph nodes currently excluded from rendering after a processor failure",
			nil, nil,
		),
		participantOnlineDesc: prometheus.NewDesc(
			"chaosgarden_participants_online",
			"Number of participants currently online",
			nil, nil,
		),
		participantTotalDesc: prometheus.NewDesc(
			"chaosgarden_participants_total",
			"Number of registered, non-tombstoned participants",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"chaosgarden_uptime_seconds",
			"Seconds since the chaosgarden process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.prerenderSlotsDesc
	ch <- c.prerenderOccupiedDesc
	ch <- c.latentRunningDesc
	ch <- c.playbackPositionDesc
	ch <- c.playbackGenerationDesc
	ch <- c.playbackTransportDesc
	ch <- c.playbackFailedNodesDesc
	ch <- c.participantOnlineDesc
	ch <- c.participantTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// Pre-render pool occupancy.
	if c.prerender != nil {
		ch <- prometheus.MustNewConstMetric(
			c.prerenderSlotsDesc, prometheus.GaugeValue,
			float64(c.prerender.Size()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.prerenderOccupiedDesc, prometheus.GaugeValue,
			float64(c.prerender.Occupied()),
		)
	}

	// Latent job concurrency.
	if c.latent != nil {
		ch <- prometheus.MustNewConstMetric(
			c.latentRunningDesc, prometheus.GaugeValue,
			float64(c.latent.RunningCount()),
		)
	}

	// Playback engine state.
	if c.playback != nil {
		ch <- prometheus.MustNewConstMetric(
			c.playbackPositionDesc, prometheus.GaugeValue,
			float64(c.playback.PositionBeat()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbackGenerationDesc, prometheus.CounterValue,
			float64(c.playback.Generation()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbackTransportDesc, prometheus.GaugeValue, 1,
			c.playback.TransportStateLabel(),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbackFailedNodesDesc, prometheus.GaugeValue,
			float64(c.playback.FailedNodeCount()),
		)
	}

	// Participant registry.
	if c.participant != nil {
		ch <- prometheus.MustNewConstMetric(
			c.participantOnlineDesc, prometheus.GaugeValue,
			float64(c.participant.OnlineCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.participantTotalDesc, prometheus.GaugeValue,
			float64(c.participant.TotalCount()),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
