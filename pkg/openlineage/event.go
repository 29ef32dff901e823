// Package openlineage defines the lineage event document produced by the
// composer: a run event with job, input and output datasets and their facets.
//
// Field names and nesting follow the OpenLineage run event schema. Optional
// facets are pointers and are omitted when nil.
package openlineage

import (
	"fmt"
	"time"
)

// DefaultProducer is used when no producer URL is configured.
const DefaultProducer = "https://github.com/leapstack-labs/sqllineage"

// SchemaBaseURL prefixes every facet schema URL.
const SchemaBaseURL = "https://openlineage.io/spec/facets/1-0-0/"

// EventType is the run state reported by an event.
type EventType string

// Event types.
const (
	EventStart    EventType = "START"
	EventRunning  EventType = "RUNNING"
	EventComplete EventType = "COMPLETE"
	EventAbort    EventType = "ABORT"
	EventFail     EventType = "FAIL"
	EventOther    EventType = "OTHER"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStart, EventRunning, EventComplete, EventAbort, EventFail, EventOther:
		return true
	}
	return false
}

// RunEvent is the top-level lineage document.
type RunEvent struct {
	EventType EventType `json:"eventType" yaml:"eventType"`
	EventTime string    `json:"eventTime" yaml:"eventTime"`
	Run       Run       `json:"run" yaml:"run"`
	Job       Job       `json:"job" yaml:"job"`
	Inputs    []Dataset `json:"inputs" yaml:"inputs"`
	Outputs   []Dataset `json:"outputs" yaml:"outputs"`
}

// FormatTime renders an event time the way RunEvent stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Run identifies the run an event belongs to.
type Run struct {
	RunID  string    `json:"runId" yaml:"runId"`
	Facets RunFacets `json:"facets" yaml:"facets"`
}

// RunFacets are the optional run facets.
type RunFacets struct {
	Parent *ParentRunFacet `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// ParentRunFacet links a run to the run that triggered it.
type ParentRunFacet struct {
	Job ParentJob `json:"job" yaml:"job"`
	Run ParentRun `json:"run" yaml:"run"`
}

// ParentJob names the parent job.
type ParentJob struct {
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// ParentRun identifies the parent run.
type ParentRun struct {
	RunID string `json:"runId" yaml:"runId"`
}

// Job describes the job that ran the SQL.
type Job struct {
	Namespace string    `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Facets    JobFacets `json:"facets" yaml:"facets"`
}

// JobFacets carries the sql, jobType and sourceCode facets.
type JobFacets struct {
	SQL        *SQLJobFacet        `json:"sql,omitempty" yaml:"sql,omitempty"`
	JobType    *JobTypeJobFacet    `json:"jobType,omitempty" yaml:"jobType,omitempty"`
	SourceCode *SourceCodeJobFacet `json:"sourceCode,omitempty" yaml:"sourceCode,omitempty"`
}

// BaseFacet holds the fields every facet carries.
type BaseFacet struct {
	Producer  string `json:"_producer" yaml:"_producer"`
	SchemaURL string `json:"_schemaURL" yaml:"_schemaURL"`
}

// NewBaseFacet returns a BaseFacet for the named facet schema,
// e.g. NewBaseFacet(p, "SqlJobFacet").
func NewBaseFacet(producer, schema string) BaseFacet {
	if producer == "" {
		producer = DefaultProducer
	}
	return BaseFacet{Producer: producer, SchemaURL: fmt.Sprintf("%s%s.json", SchemaBaseURL, schema)}
}

// SQLJobFacet holds the full SQL text.
type SQLJobFacet struct {
	BaseFacet `yaml:",inline"`
	Query     string `json:"query" yaml:"query"`
}

// JobTypeJobFacet classifies the job.
type JobTypeJobFacet struct {
	ProcessingType string `json:"processingType" yaml:"processingType"`
	Integration    string `json:"integration" yaml:"integration"`
	JobType        string `json:"jobType" yaml:"jobType"`
	BaseFacet      `yaml:",inline"`
}

// SourceCodeJobFacet holds the job source code.
type SourceCodeJobFacet struct {
	BaseFacet  `yaml:",inline"`
	Language   string `json:"language" yaml:"language"`
	SourceCode string `json:"sourceCode" yaml:"sourceCode"`
}

// Dataset is an input or output dataset of the job.
type Dataset struct {
	Namespace string        `json:"namespace" yaml:"namespace"`
	Name      string        `json:"name" yaml:"name"`
	Facets    DatasetFacets `json:"facets" yaml:"facets"`
}

// DatasetFacets are the dataset facets. Inputs carry schema, storage,
// datasetType, lifecycleStateChange and ownership; outputs carry columnLineage.
type DatasetFacets struct {
	Schema               *SchemaDatasetFacet               `json:"schema,omitempty" yaml:"schema,omitempty"`
	Storage              *StorageDatasetFacet              `json:"storage,omitempty" yaml:"storage,omitempty"`
	DatasetType          *DatasetTypeDatasetFacet          `json:"datasetType,omitempty" yaml:"datasetType,omitempty"`
	LifecycleStateChange *LifecycleStateChangeDatasetFacet `json:"lifecycleStateChange,omitempty" yaml:"lifecycleStateChange,omitempty"`
	Ownership            *OwnershipDatasetFacet            `json:"ownership,omitempty" yaml:"ownership,omitempty"`
	ColumnLineage        *ColumnLineageDatasetFacet        `json:"columnLineage,omitempty" yaml:"columnLineage,omitempty"`
}

// SchemaDatasetFacet lists dataset fields.
type SchemaDatasetFacet struct {
	BaseFacet `yaml:",inline"`
	Fields    []SchemaField `json:"fields" yaml:"fields"`
}

// SchemaField is one field of a dataset schema.
type SchemaField struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
}

// StorageDatasetFacet describes where the dataset lives.
type StorageDatasetFacet struct {
	BaseFacet    `yaml:",inline"`
	StorageLayer string `json:"storageLayer" yaml:"storageLayer"`
	FileFormat   string `json:"fileFormat" yaml:"fileFormat"`
}

// DatasetTypeDatasetFacet classifies the dataset.
type DatasetTypeDatasetFacet struct {
	BaseFacet   `yaml:",inline"`
	DatasetType string `json:"datasetType" yaml:"datasetType"`
	SubType     string `json:"subType" yaml:"subType"`
}

// LifecycleStateChangeDatasetFacet reports what the job did to the dataset.
type LifecycleStateChangeDatasetFacet struct {
	BaseFacet            `yaml:",inline"`
	LifecycleStateChange string `json:"lifecycleStateChange" yaml:"lifecycleStateChange"`
}

// OwnershipDatasetFacet lists dataset owners.
type OwnershipDatasetFacet struct {
	BaseFacet `yaml:",inline"`
	Owners    []Owner `json:"owners" yaml:"owners"`
}

// Owner is one dataset owner.
type Owner struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// ColumnLineageDatasetFacet maps output fields to their input fields.
type ColumnLineageDatasetFacet struct {
	BaseFacet `yaml:",inline"`
	Fields    map[string]ColumnLineageField `json:"fields" yaml:"fields"`
}

// ColumnLineageField lists the inputs of one output field.
type ColumnLineageField struct {
	InputFields []InputField `json:"inputFields" yaml:"inputFields"`
}

// InputField is one input column of an output field.
type InputField struct {
	Namespace       string           `json:"namespace" yaml:"namespace"`
	Name            string           `json:"name" yaml:"name"`
	Field           string           `json:"field" yaml:"field"`
	Transformations []Transformation `json:"transformations" yaml:"transformations"`
}

// Transformation describes how an input field becomes an output field.
type Transformation struct {
	Type        string `json:"type" yaml:"type"`
	Subtype     string `json:"subtype" yaml:"subtype"`
	Description string `json:"description" yaml:"description"`
	Masking     bool   `json:"masking" yaml:"masking"`
}

// Enumerated facet values.
const (
	TransformationDirect      = "DIRECT"
	SubtypeIdentity           = "IDENTITY"
	SubtypeTransformation     = "TRANSFORMATION"
	SubtypeAggregation        = "AGGREGATION"
	SubtypeConditional        = "CONDITIONAL"
	LifecycleRead             = "READ"
	LifecycleCreate           = "CREATE"
	LifecycleOverwrite        = "OVERWRITE"
	DefaultProcessingType     = "BATCH"
	DefaultSourceCodeLanguage = "sql"
)

// Facet schema names.
const (
	SQLJobFacetSchema                      = "SqlJobFacet"
	JobTypeJobFacetSchema                  = "JobTypeFacet"
	SourceCodeJobFacetSchema               = "SourceCodeJobFacet"
	SchemaDatasetFacetSchema               = "SchemaDatasetFacet"
	StorageDatasetFacetSchema              = "StorageDatasetFacet"
	DatasetTypeDatasetFacetSchema          = "DatasetTypeDatasetFacet"
	LifecycleStateChangeDatasetFacetSchema = "LifecycleStateChangeDatasetFacet"
	OwnershipDatasetFacetSchema            = "OwnershipDatasetFacet"
	ColumnLineageDatasetFacetSchema        = "ColumnLineageDatasetFacet"
)

// Key returns the dedup key of a dataset.
func (d Dataset) Key() string {
	return d.Namespace + "\x00" + d.Name
}
