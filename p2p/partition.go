package p2p

import "time"

// PartitionDetected is the observable partition event:
// raised once partition_detection_threshold has elapsed with no traffic
// from the listed peers. The peers are not evicted yet — eviction is a
// separate decision gated by agent_ttl.
type PartitionDetected struct {
	Peers []PeerID
}

// DetectPartitions returns a PartitionDetected event if any peer has
// gone silent for partition_detection_threshold, or ok=false if the
// overlay looks healthy. Callers typically run this from the
// maintenance loop.
func DetectPartitions(table *Table, now time.Time) (PartitionDetected, bool) {
	affected := table.PartitionCheck(now)
	if len(affected) == 0 {
		return PartitionDetected{}, false
	}
	return PartitionDetected{Peers: affected}, true
}

// MaintenanceSweep runs one pass of the p2p-side maintenance work: stale
// peer eviction and partition detection. It returns the partition event
// (if any) and the set of evicted peer ids, letting the caller decide
// whether/how to surface PartitionDetected before the eviction that
// follows it.
func MaintenanceSweep(table *Table, now time.Time) (PartitionDetected, bool, []PeerID) {
	event, ok := DetectPartitions(table, now)
	evicted := table.EvictStale(now)
	return event, ok, evicted
}
