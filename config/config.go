// Package config holds the engine-wide tunables from spec §3/§4 and an
// optional loader that overrides them from an ini file, the way the
// teacher server loads its runtime parameters.
package config

import (
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Column value sentinels (spec §3).
const (
	DeletionFlag int32 = -1
	NoneValue    int32 = -2
)

// Hidden column indices, fixed order (spec §3).
const (
	Indirection = iota
	RID
	Timestamp
	UpdateTimestamp
	SchemaEncoding
	NumHiddenColumns
)

// Defaults. PageSize is expressed in int32 slots, not bytes, to keep
// RecordsPerPage an exact divisor without float math; 512 slots * 4
// bytes matches the 2KB-class page size the original prototypes use.
const (
	DefaultPageSize            = 512
	DefaultPagesPerRange       = 32
	DefaultMaxFramesPerColumn  = 64
	DefaultMergeTrigger        = 64 // MERGE_TRIGGER, in units of RECORDS_PER_PAGE (spec §4.5)
)

// Config is the resolved set of engine tunables. All fields are fixed
// at table-creation time; a table's page arithmetic depends on them
// for the lifetime of the table's on-disk files.
type Config struct {
	PageSize           int // RECORDS_PER_PAGE, in int32 slots
	PagesPerRange       int
	MaxFramesPerColumn  int
	MergeTrigger        int
}

// RecordsPerPage returns PAGE_SIZE (spec naming: slots per page).
func (c Config) RecordsPerPage() int { return c.PageSize }

// MaxRecordsPerRange is PAGES_PER_RANGE * RECORDS_PER_PAGE (spec §3).
func (c Config) MaxRecordsPerRange() int { return c.PagesPerRange * c.PageSize }

// Default returns the hardcoded defaults from spec §3/§4.
func Default() Config {
	return Config{
		PageSize:           DefaultPageSize,
		PagesPerRange:      DefaultPagesPerRange,
		MaxFramesPerColumn: DefaultMaxFramesPerColumn,
		MergeTrigger:       DefaultMergeTrigger,
	}
}

// LoadINI overrides the defaults from an ini file with a [lstore]
// section; missing keys keep their default. A missing file is not an
// error — it simply means "use defaults".
func LoadINI(path string) (Config, error) {
	cfg := Default()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, nil
	}

	sec := f.Section("lstore")
	if sec == nil {
		return cfg, nil
	}

	if k := sec.Key("page_size"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return cfg, errors.Wrapf(err, "parsing page_size in %s", path)
		}
		cfg.PageSize = v
	}
	if k := sec.Key("pages_per_range"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return cfg, errors.Wrapf(err, "parsing pages_per_range in %s", path)
		}
		cfg.PagesPerRange = v
	}
	if k := sec.Key("max_frames_per_column"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return cfg, errors.Wrapf(err, "parsing max_frames_per_column in %s", path)
		}
		cfg.MaxFramesPerColumn = v
	}
	if k := sec.Key("merge_trigger"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return cfg, errors.Wrapf(err, "parsing merge_trigger in %s", path)
		}
		cfg.MergeTrigger = v
	}

	return cfg, nil
}
