package stress

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
)

// Monitor samples the live meters of a run at a fixed interval, logs them
// and keeps the samples for a CSV file.
type Monitor struct {
	meters   metrics.Registry
	interval time.Duration

	mu      sync.Mutex
	records [][]string
	stop    chan struct{}
	done    chan struct{}
}

func NewMonitor(meters metrics.Registry, interval time.Duration) *Monitor {
	return &Monitor{
		meters:   meters,
		interval: interval,
		records:  [][]string{{"t", "kind", "count", "mean_rate", "m1_rate", "m5_rate", "m15_rate"}},
	}
}

// Start begins sampling. It must be paired with Stop.
func (m *Monitor) Start() {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop takes a final sample and stops the ticker.
func (m *Monitor) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
	m.Sample()
}

// Sample logs and records the current state of every meter.
func (m *Monitor) Sample() {
	timestamp := time.Now().Unix()
	snapshots := Snapshot(m.meters)

	kinds := make([]string, 0, len(snapshots))
	for kind := range snapshots {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range kinds {
		s := snapshots[kind]
		grip.Info(message.Fields{
			"message":   "progress",
			"kind":      kind,
			"count":     s.Count,
			"mean_rate": fmt.Sprintf("%.2f", s.MeanRate),
			"m1_rate":   fmt.Sprintf("%.2f", s.Rate1),
		})
		m.records = append(m.records, []string{
			fmt.Sprintf("%d", timestamp),
			kind,
			fmt.Sprintf("%d", s.Count),
			fmt.Sprintf("%.6f", s.MeanRate),
			fmt.Sprintf("%.6f", s.Rate1),
			fmt.Sprintf("%.6f", s.Rate5),
			fmt.Sprintf("%.6f", s.Rate15),
		})
	}
}

// Records returns the samples taken so far, header first.
func (m *Monitor) Records() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.records...)
}

// MeterSnapshot is the state of one meter.
type MeterSnapshot struct {
	Count    int64   `json:"count"`
	MeanRate float64 `json:"mean_rate"`
	Rate1    float64 `json:"m1_rate"`
	Rate5    float64 `json:"m5_rate"`
	Rate15   float64 `json:"m15_rate"`
}

// Snapshot captures every meter in the registry by name.
func Snapshot(meters metrics.Registry) map[string]MeterSnapshot {
	out := map[string]MeterSnapshot{}
	if meters == nil {
		return out
	}
	meters.Each(func(name string, i interface{}) {
		meter, ok := i.(metrics.Meter)
		if !ok {
			return
		}
		s := meter.Snapshot()
		out[name] = MeterSnapshot{
			Count:    s.Count(),
			MeanRate: s.RateMean(),
			Rate1:    s.Rate1(),
			Rate5:    s.Rate5(),
			Rate15:   s.Rate15(),
		}
	})
	return out
}

// WriteCSV writes records to <prefix>_<phase>.csv and returns the file name.
func WriteCSV(prefix, phase string, records [][]string) (string, error) {
	filename := fmt.Sprintf("%s_%s.csv", prefix, phase)
	file, err := os.Create(filename)
	if err != nil {
		return "", errors.Wrapf(err, "creating '%s'", filename)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return "", errors.Wrapf(err, "writing '%s'", filename)
	}
	return filename, errors.Wrapf(file.Close(), "closing '%s'", filename)
}
