// Package config holds the workload mix of a stress run.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// UpdateConfig tunes the update workers.
type UpdateConfig struct {
	Threads int `yaml:"threads"`
	Batch   int `yaml:"batch"`
}

// SaveConfig tunes the workers that upsert whole random documents.
type SaveConfig struct {
	Threads int `yaml:"threads"`
	Batch   int `yaml:"batch"`
}

// ScanConfig tunes the full collection scan workers.
type ScanConfig struct {
	Threads int `yaml:"threads"`
}

// PointQueryConfig tunes the point query workers.
type PointQueryConfig struct {
	Threads int `yaml:"threads"`
	Batch   int `yaml:"batch"`
}

// RangeQueryConfig tunes the _id range query workers. Stride is the number of
// consecutive documents one query reads.
type RangeQueryConfig struct {
	Threads int `yaml:"threads"`
	Stride  int `yaml:"stride"`
}

// DropConfig tunes the collection drop workers. Period is in seconds.
type DropConfig struct {
	Threads int `yaml:"threads"`
	Period  int `yaml:"period"`
}

// Config describes the collections of a run and the workers stressing each
// of them.
type Config struct {
	Collections     int     `yaml:"collections"`
	Indexes         int     `yaml:"indexes"`
	Fields          int     `yaml:"fields"`
	Documents       int     `yaml:"documents"`
	Seconds         int     `yaml:"seconds"`
	Padding         int     `yaml:"padding"`
	Compressibility float64 `yaml:"compressibility"`
	FillBatch       int     `yaml:"fill_batch"`

	Update     UpdateConfig     `yaml:"update"`
	Save       SaveConfig       `yaml:"save"`
	Scan       ScanConfig       `yaml:"scan"`
	PointQuery PointQueryConfig `yaml:"ptquery"`
	RangeQuery RangeQueryConfig `yaml:"range_query"`
	Drop       DropConfig       `yaml:"drop"`
}

// Defaults returns the stock workload: four collections of a million
// documents each and no stress workers.
func Defaults() Config {
	return Config{
		Collections:     4,
		Indexes:         4,
		Fields:          2,
		Documents:       1 << 20,
		Seconds:         600,
		Padding:         200,
		Compressibility: 0.25,
		FillBatch:       100000,
		Update:          UpdateConfig{Batch: 50},
		Save:            SaveConfig{Batch: 50},
		PointQuery:      PointQueryConfig{Batch: 50},
		RangeQuery:      RangeQueryConfig{Stride: 100},
		Drop:            DropConfig{Period: 60},
	}
}

// Duration is the length of the stress phase.
func (c Config) Duration() time.Duration {
	return time.Duration(c.Seconds) * time.Second
}

// SchemaOptions returns the per-collection document shape.
func (c Config) SchemaOptions() schema.Options {
	return schema.Options{
		Fields:          c.Fields,
		Indexes:         c.Indexes,
		Documents:       c.Documents,
		Padding:         c.Padding,
		Compressibility: c.Compressibility,
		FillBatch:       c.FillBatch,
	}
}

// CollectionName returns the name of the i-th collection.
func CollectionName(i int) string {
	return fmt.Sprintf("coll%d", i)
}

// Validate rejects configurations that cannot run. Errors are
// *schema.ConfigurationError values.
func (c Config) Validate() error {
	if err := c.SchemaOptions().Validate(); err != nil {
		return err
	}

	var problem string
	switch {
	case c.Collections < 1:
		problem = "at least one collection is required"
	case c.Seconds < 0:
		problem = "seconds must not be negative"
	case c.FillBatch < 1:
		problem = "fill batch must be positive"
	case min(c.Update.Threads, c.Save.Threads, c.Scan.Threads, c.PointQuery.Threads, c.RangeQuery.Threads, c.Drop.Threads) < 0:
		problem = "thread counts must not be negative"
	case c.Update.Threads > 0 && c.Update.Batch < 1:
		problem = "update batch must be positive"
	case c.Save.Threads > 0 && c.Save.Batch < 1:
		problem = "save batch must be positive"
	case c.PointQuery.Threads > 0 && c.PointQuery.Batch < 1:
		problem = "ptquery batch must be positive"
	case c.RangeQuery.Threads > 0 && c.RangeQuery.Stride < 1:
		problem = "range query stride must be positive"
	case c.Drop.Threads > 0 && c.Drop.Period < 1:
		problem = "drop period must be positive"
	case (c.Update.Threads > 0 || c.Save.Threads > 0 || c.PointQuery.Threads > 0 || c.RangeQuery.Threads > 0) && c.Documents < 1:
		problem = "update, save, ptquery and range query workers need documents to sample"
	}
	if problem != "" {
		return &schema.ConfigurationError{Reason: problem}
	}
	return nil
}

// LoadFile overlays the YAML workload file at path onto c. Keys missing from
// the file keep their current values.
func LoadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading workload file '%s'", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parsing workload file '%s'", path)
	}
	return nil
}
