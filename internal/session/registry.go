package session

import (
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
)

// UnknownName is recorded for devices that advertise without a local name
const UnknownName = "Unknown"

// DeviceRecord is the registry entry for one advertising device
type DeviceRecord struct {
	Address  string
	Name     string
	RSSI     int
	LastSeen time.Time
}

// Registry tracks recently seen devices keyed by address. Reads are lock-free;
// writers are serialized so that sweeps and clears observe a consistent map.
type Registry struct {
	mu      sync.Mutex
	records *hashmap.Map[string, DeviceRecord]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{records: hashmap.New[string, DeviceRecord]()}
}

// Observe inserts or refreshes the record for address and returns it.
// An empty name is stored as UnknownName.
func (r *Registry) Observe(address, name string, rssi int, seen time.Time) DeviceRecord {
	if name == "" {
		name = UnknownName
	}
	rec := DeviceRecord{Address: address, Name: name, RSSI: rssi, LastSeen: seen}

	r.mu.Lock()
	r.records.Set(address, rec)
	r.mu.Unlock()

	return rec
}

// Sweep removes every record last seen more than staleAfter before now and returns them
func (r *Registry) Sweep(now time.Time, staleAfter time.Duration) []DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []DeviceRecord
	r.records.Range(func(address string, rec DeviceRecord) bool {
		if now.Sub(rec.LastSeen) > staleAfter {
			stale = append(stale, rec)
		}
		return true
	})
	for _, rec := range stale {
		r.records.Del(rec.Address)
	}

	sortByAddress(stale)
	return stale
}

// Clear removes every record and returns them
func (r *Registry) Clear() []DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.snapshot()
	for _, rec := range removed {
		r.records.Del(rec.Address)
	}
	return removed
}

// Get returns a copy of the record for address
func (r *Registry) Get(address string) (DeviceRecord, bool) {
	return r.records.Get(address)
}

// Len returns the number of tracked devices
func (r *Registry) Len() int {
	return r.records.Len()
}

// Snapshot returns copies of all records ordered by address
func (r *Registry) Snapshot() []DeviceRecord {
	return r.snapshot()
}

func (r *Registry) snapshot() []DeviceRecord {
	out := make([]DeviceRecord, 0, r.records.Len())
	r.records.Range(func(_ string, rec DeviceRecord) bool {
		out = append(out, rec)
		return true
	})
	sortByAddress(out)
	return out
}

func sortByAddress(recs []DeviceRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Address < recs[j].Address
	})
}
