// Package config provides configuration management for the sqllineage CLI.
//
// Values are layered from defaults, a sqllineage.yaml file, SQLLINEAGE_
// environment variables and explicitly set flags, in that order.
package config

import (
	"strings"

	"github.com/leapstack-labs/sqllineage/internal/compose"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

// Config holds all CLI configuration options.
type Config struct {
	Namespace   string       `koanf:"namespace"`
	JobName     string       `koanf:"job_name"`
	Producer    string       `koanf:"producer"`
	Output      string       `koanf:"output"`
	Verbose     bool         `koanf:"verbose"`
	LogLevel    string       `koanf:"log_level"`
	LogFormat   string       `koanf:"log_format"`
	Concurrency int          `koanf:"concurrency"`
	StorePath   string       `koanf:"store_path"`
	Persist     bool         `koanf:"persist"`
	Server      ServerConfig `koanf:"server"`
	Event       EventConfig  `koanf:"event"`
	Schema      core.Schema  `koanf:"schema"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// EventConfig holds the values copied into every lineage event.
type EventConfig struct {
	EventType      string `koanf:"event_type"`
	ProcessingType string `koanf:"processing_type"`
	Integration    string `koanf:"integration"`
	StorageLayer   string `koanf:"storage_layer"`
	FileFormat     string `koanf:"file_format"`
	DatasetType    string `koanf:"dataset_type"`
	DatasetSubtype string `koanf:"dataset_subtype"`
	// Owners are "type:name" pairs or bare names.
	Owners []string      `koanf:"owners"`
	Parent *ParentConfig `koanf:"parent"`
}

// ParentConfig links events to the run that triggered them.
type ParentConfig struct {
	RunID     string `koanf:"run_id"`
	JobName   string `koanf:"job_name"`
	Namespace string `koanf:"namespace"`
}

// Default configuration values.
const (
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogLevel    = "warn"
	DefaultLogFormat   = "text"
	DefaultStoreFile   = ".sqllineage/runs.db"
	DefaultOwnerType   = "team"
	DefaultServerAddr  = ":8080"
	DefaultConcurrency = 4
)

// ComposeConfig maps the event settings onto the composer configuration.
func (c *Config) ComposeConfig() compose.Config {
	cc := compose.Config{
		Namespace:      c.Namespace,
		JobName:        c.JobName,
		Producer:       c.Producer,
		EventType:      openlineage.EventType(strings.ToUpper(c.Event.EventType)),
		ProcessingType: c.Event.ProcessingType,
		Integration:    c.Event.Integration,
		StorageLayer:   c.Event.StorageLayer,
		FileFormat:     c.Event.FileFormat,
		DatasetType:    c.Event.DatasetType,
		DatasetSubtype: c.Event.DatasetSubtype,
		Owners:         ParseOwners(c.Event.Owners),
		Schema:         c.Schema,
	}
	if p := c.Event.Parent; p != nil && p.RunID != "" {
		parent := &openlineage.ParentRunFacet{
			Run: openlineage.ParentRun{RunID: p.RunID},
			Job: openlineage.ParentJob{Name: p.JobName, Namespace: p.Namespace},
		}
		if parent.Job.Namespace == "" {
			parent.Job.Namespace = c.Namespace
		}
		cc.Parent = parent
	}
	return cc
}

// ParseOwners turns "type:name" entries into owners. Entries without a type
// get DefaultOwnerType.
func ParseOwners(entries []string) []openlineage.Owner {
	var owners []openlineage.Owner
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		typ, name, ok := strings.Cut(e, ":")
		if !ok {
			typ, name = DefaultOwnerType, e
		}
		owners = append(owners, openlineage.Owner{Name: strings.TrimSpace(name), Type: strings.TrimSpace(typ)})
	}
	return owners
}

// Default returns the configuration used when nothing was loaded.
func Default() *Config {
	return &Config{
		Output:      DefaultOutput,
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Concurrency: DefaultConcurrency,
		StorePath:   DefaultStoreFile,
		Server:      ServerConfig{Addr: DefaultServerAddr},
	}
}
