package media

// SessionStats is a snapshot of one Pipeline's media-session counters, for
// CDR emission (spec §4.9) and admin/observability surfaces.
type SessionStats struct {
	PacketsIn    uint64
	PacketsOut   uint64
	BytesIn      uint64
	BytesOut     uint64
	LossCount    uint64
	LateCount    uint64
	ReorderCount uint64
	MaxJitterMs  float64
	SSRCChanges  uint64
}
