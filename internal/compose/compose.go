// Package compose implements the Lineage Event Composer.
//
// The composer walks the analyzed units in dependency order and resolves
// every output column of the main query back to base table columns,
// substituting references to earlier units with what those units resolve
// to. The result is one OpenLineage run event.
package compose

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

// Defaults applied by New for empty Config fields.
const (
	DefaultNamespace    = "default"
	DefaultJobName      = "sql_lineage_job"
	DefaultIntegration  = "sqllineage"
	DefaultStorageLayer = "database"
	DefaultFileFormat   = "N/A"
	DefaultDatasetType  = "table"
)

// ChainSeparator joins the transformation descriptions of every hop.
const ChainSeparator = " -> "

// Config holds composer configuration. Everything but Logger ends up in the
// event.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger

	Namespace      string
	JobName        string
	Producer       string
	EventType      openlineage.EventType
	ProcessingType string
	Integration    string

	// Input dataset facets.
	StorageLayer   string
	FileFormat     string
	DatasetType    string
	DatasetSubtype string
	Owners         []openlineage.Owner

	// Parent links the run to the run that triggered it.
	Parent *openlineage.ParentRunFacet

	// Schema types the fields of the input schema facets.
	Schema core.Schema

	// Now and RunID default to the wall clock and random UUIDs.
	Now   func() time.Time
	RunID func() string
}

// Analysis is everything known about one script after the per-unit stages.
type Analysis struct {
	// SQL is the full script. Defaults to the main unit's SQL.
	SQL string
	// Decomposition holds the units in dependency order and the write target.
	Decomposition *core.Decomposition
	// Fields and Operations hold one list per unit, in unit order.
	Fields     [][]core.OutputFieldMapping
	Operations [][]core.TableOperationRecord
	// RunID overrides Config.RunID when set.
	RunID string
}

// Composer is the Lineage Event Composer.
type Composer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a composer.
func New(cfg Config) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.JobName == "" {
		cfg.JobName = DefaultJobName
	}
	if cfg.Producer == "" {
		cfg.Producer = openlineage.DefaultProducer
	}
	if cfg.EventType == "" {
		cfg.EventType = openlineage.EventStart
	}
	if cfg.ProcessingType == "" {
		cfg.ProcessingType = openlineage.DefaultProcessingType
	}
	if cfg.Integration == "" {
		cfg.Integration = DefaultIntegration
	}
	if cfg.StorageLayer == "" {
		cfg.StorageLayer = DefaultStorageLayer
	}
	if cfg.FileFormat == "" {
		cfg.FileFormat = DefaultFileFormat
	}
	if cfg.DatasetType == "" {
		cfg.DatasetType = DefaultDatasetType
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RunID == nil {
		cfg.RunID = uuid.NewString
	}
	return &Composer{cfg: cfg, logger: logger}
}

// Job returns the namespace and name events are reported under.
func (c *Composer) Job() (namespace, name string) {
	return c.cfg.Namespace, c.cfg.JobName
}

// Compose builds the lineage event of an analyzed script.
func (c *Composer) Compose(ctx context.Context, a Analysis) (*openlineage.RunEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Decomposition == nil {
		return nil, core.NewCompositionError("", "", "no decomposition")
	}
	units := a.Decomposition.Units
	if len(a.Fields) != len(units) || len(a.Operations) != len(units) {
		return nil, core.NewCompositionError("", "",
			"expected %d field lists and operation lists, got %d and %d", len(units), len(a.Fields), len(a.Operations))
	}
	main, ok := a.Decomposition.Main()
	if !ok {
		return nil, core.NewCompositionError("", "", "the last unit must be %s", core.MainQueryName)
	}

	r := newResolver(units, a.Fields)
	for i := range units {
		if err := r.check(i); err != nil {
			return nil, err
		}
	}

	datasets, index := inputs(units, a.Fields, a.Operations)

	mainFields := a.Fields[len(units)-1]
	names, err := outputNames(a.Decomposition, mainFields)
	if err != nil {
		return nil, err
	}
	lineage := make(map[string]openlineage.ColumnLineageField, len(mainFields))
	for i, m := range mainFields {
		paths, err := r.field(len(units)-1, m)
		if err != nil {
			return nil, err
		}
		field := openlineage.ColumnLineageField{InputFields: []openlineage.InputField{}}
		for _, p := range paths {
			in, ok := index[strings.ToLower(p.table)]
			if !ok {
				return nil, core.NewCompositionError(main.Name, p.table,
					"table %s feeds output %s but no unit reads it", p.table, names[i])
			}
			in.addField(p.column)
			field.InputFields = appendInput(field.InputFields, openlineage.InputField{
				Namespace:       c.cfg.Namespace,
				Name:            in.name,
				Field:           p.column,
				Transformations: []openlineage.Transformation{p.transformation()},
			})
		}
		lineage[names[i]] = field
	}

	sql := a.SQL
	if sql == "" {
		sql = main.SQL
	}
	runID := a.RunID
	if runID == "" {
		runID = c.cfg.RunID()
	}
	ev := &openlineage.RunEvent{
		EventType: c.cfg.EventType,
		EventTime: openlineage.FormatTime(c.cfg.Now()),
		Run:       openlineage.Run{RunID: runID, Facets: openlineage.RunFacets{Parent: c.cfg.Parent}},
		Job:       c.job(sql, a.Decomposition.Kind),
		Inputs:    make([]openlineage.Dataset, 0, len(datasets)),
		Outputs:   []openlineage.Dataset{c.output(a.Decomposition, lineage)},
	}
	for _, in := range datasets {
		ev.Inputs = append(ev.Inputs, in.dataset(c))
	}

	c.logger.Debug("composed event",
		slog.String("run_id", ev.Run.RunID),
		slog.Int("inputs", len(ev.Inputs)),
		slog.Int("fields", len(lineage)))
	return ev, nil
}

// outputNames returns the output dataset's field names: the main query's
// output names, renamed by an INSERT column list.
func outputNames(d *core.Decomposition, fields []core.OutputFieldMapping) ([]string, error) {
	names := make([]string, len(fields))
	star := false
	for i, m := range fields {
		names[i] = m.Name
		star = star || m.Name == "*"
	}
	if len(d.TargetColumns) == 0 || star {
		return names, nil
	}
	if len(d.TargetColumns) != len(fields) {
		return nil, core.NewCompositionError(core.MainQueryName, d.Target,
			"%s lists %d columns but the query selects %d", d.Target, len(d.TargetColumns), len(fields))
	}
	copy(names, d.TargetColumns)
	return names, nil
}

// input accumulates one input dataset.
type input struct {
	name   string
	fields []string
	seen   map[string]bool
}

func (in *input) addField(field string) {
	if field == "*" || in.seen[strings.ToLower(field)] {
		return
	}
	in.seen[strings.ToLower(field)] = true
	in.fields = append(in.fields, field)
}

// inputs collects one entry per base table read by any unit, in the order
// units read them. Unit names are never inputs. Each entry lists the fields
// any unit projects or operates on.
func inputs(units core.Units, fields [][]core.OutputFieldMapping, ops [][]core.TableOperationRecord) ([]*input, map[string]*input) {
	isUnit := make(map[string]bool, len(units))
	for _, u := range units {
		isUnit[strings.ToLower(u.Name)] = true
	}
	var list []*input
	index := make(map[string]*input)
	for _, records := range ops {
		for _, rec := range records {
			key := strings.ToLower(rec.SourceTable)
			if isUnit[key] || index[key] != nil {
				continue
			}
			in := &input{name: rec.SourceTable, seen: make(map[string]bool)}
			index[key] = in
			list = append(list, in)
		}
	}

	for i := range units {
		for _, m := range fields[i] {
			for _, src := range m.Sources {
				if in := index[strings.ToLower(src.Table)]; in != nil {
					in.addField(src.Column)
				}
			}
		}
		for _, rec := range ops[i] {
			if in := index[strings.ToLower(rec.SourceTable)]; in != nil {
				for _, f := range rec.SourceFields {
					in.addField(f)
				}
			}
		}
	}
	return list, index
}

func (in *input) dataset(c *Composer) openlineage.Dataset {
	cols, _ := c.cfg.Schema.Lookup(in.name)
	typed := make(map[string]core.Column, len(cols))
	for _, col := range cols {
		typed[strings.ToLower(col.Name)] = col
	}
	fields := make([]openlineage.SchemaField, 0, len(in.fields))
	for _, f := range in.fields {
		col := typed[strings.ToLower(f)]
		fields = append(fields, openlineage.SchemaField{Name: f, Type: col.Type, Description: col.Description})
	}

	owners := c.cfg.Owners
	if owners == nil {
		owners = []openlineage.Owner{}
	}
	p := c.cfg.Producer
	return openlineage.Dataset{
		Namespace: c.cfg.Namespace,
		Name:      in.name,
		Facets: openlineage.DatasetFacets{
			Schema: &openlineage.SchemaDatasetFacet{
				BaseFacet: openlineage.NewBaseFacet(p, openlineage.SchemaDatasetFacetSchema),
				Fields:    fields,
			},
			Storage: &openlineage.StorageDatasetFacet{
				BaseFacet:    openlineage.NewBaseFacet(p, openlineage.StorageDatasetFacetSchema),
				StorageLayer: c.cfg.StorageLayer,
				FileFormat:   c.cfg.FileFormat,
			},
			DatasetType: &openlineage.DatasetTypeDatasetFacet{
				BaseFacet:   openlineage.NewBaseFacet(p, openlineage.DatasetTypeDatasetFacetSchema),
				DatasetType: c.cfg.DatasetType,
				SubType:     c.cfg.DatasetSubtype,
			},
			LifecycleStateChange: &openlineage.LifecycleStateChangeDatasetFacet{
				BaseFacet:            openlineage.NewBaseFacet(p, openlineage.LifecycleStateChangeDatasetFacetSchema),
				LifecycleStateChange: openlineage.LifecycleRead,
			},
			Ownership: &openlineage.OwnershipDatasetFacet{
				BaseFacet: openlineage.NewBaseFacet(p, openlineage.OwnershipDatasetFacetSchema),
				Owners:    owners,
			},
		},
	}
}

func (c *Composer) job(sql string, kind core.StatementKind) openlineage.Job {
	p := c.cfg.Producer
	return openlineage.Job{
		Namespace: c.cfg.Namespace,
		Name:      c.cfg.JobName,
		Facets: openlineage.JobFacets{
			SQL: &openlineage.SQLJobFacet{
				BaseFacet: openlineage.NewBaseFacet(p, openlineage.SQLJobFacetSchema),
				Query:     sql,
			},
			JobType: &openlineage.JobTypeJobFacet{
				BaseFacet:      openlineage.NewBaseFacet(p, openlineage.JobTypeJobFacetSchema),
				ProcessingType: c.cfg.ProcessingType,
				Integration:    c.cfg.Integration,
				JobType:        kind.JobType(),
			},
			SourceCode: &openlineage.SourceCodeJobFacet{
				BaseFacet:  openlineage.NewBaseFacet(p, openlineage.SourceCodeJobFacetSchema),
				Language:   openlineage.DefaultSourceCodeLanguage,
				SourceCode: sql,
			},
		},
	}
}

func (c *Composer) output(d *core.Decomposition, fields map[string]openlineage.ColumnLineageField) openlineage.Dataset {
	name := d.Target
	if name == "" {
		name = c.cfg.JobName
	}
	p := c.cfg.Producer
	out := openlineage.Dataset{
		Namespace: c.cfg.Namespace,
		Name:      name,
		Facets: openlineage.DatasetFacets{
			ColumnLineage: &openlineage.ColumnLineageDatasetFacet{
				BaseFacet: openlineage.NewBaseFacet(p, openlineage.ColumnLineageDatasetFacetSchema),
				Fields:    fields,
			},
		},
	}

	if d.Kind == core.StatementCreateTable || d.Kind == core.StatementCreateView {
		state := openlineage.LifecycleCreate
		if d.Replace {
			state = openlineage.LifecycleOverwrite
		}
		out.Facets.LifecycleStateChange = &openlineage.LifecycleStateChangeDatasetFacet{
			BaseFacet:            openlineage.NewBaseFacet(p, openlineage.LifecycleStateChangeDatasetFacetSchema),
			LifecycleStateChange: state,
		}
	}
	return out
}

// appendInput adds in to list, merging it into an existing entry for the
// same table and field.
func appendInput(list []openlineage.InputField, in openlineage.InputField) []openlineage.InputField {
	for i := range list {
		if !strings.EqualFold(list[i].Name, in.Name) || !strings.EqualFold(list[i].Field, in.Field) {
			continue
		}
		for _, t := range in.Transformations {
			dup := false
			for _, have := range list[i].Transformations {
				if have == t {
					dup = true
					break
				}
			}
			if !dup {
				list[i].Transformations = append(list[i].Transformations, t)
			}
		}
		return list
	}
	return append(list, in)
}
