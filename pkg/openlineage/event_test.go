package openlineage_test

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

func sampleEvent() openlineage.RunEvent {
	producer := "https://openlineage.io/sql"
	return openlineage.RunEvent{
		EventType: openlineage.EventStart,
		EventTime: openlineage.FormatTime(time.Date(2025, 8, 2, 11, 0, 0, 0, time.UTC)),
		Run:       openlineage.Run{RunID: "f3c7a42e-a2f6-11ed-a8fc-0242ac120002"},
		Job: openlineage.Job{Facets: openlineage.JobFacets{
			SQL: &openlineage.SQLJobFacet{
				BaseFacet: openlineage.NewBaseFacet(producer, openlineage.SQLJobFacetSchema),
				Query:     "SELECT id FROM a",
			},
		}},
		Inputs: []openlineage.Dataset{{
			Namespace: "warehouse",
			Name:      "a",
			Facets: openlineage.DatasetFacets{
				LifecycleStateChange: &openlineage.LifecycleStateChangeDatasetFacet{
					BaseFacet:            openlineage.NewBaseFacet(producer, openlineage.LifecycleStateChangeDatasetFacetSchema),
					LifecycleStateChange: openlineage.LifecycleRead,
				},
			},
		}},
		Outputs: []openlineage.Dataset{{
			Namespace: "warehouse",
			Name:      "out",
			Facets: openlineage.DatasetFacets{
				ColumnLineage: &openlineage.ColumnLineageDatasetFacet{
					BaseFacet: openlineage.NewBaseFacet(producer, openlineage.ColumnLineageDatasetFacetSchema),
					Fields: map[string]openlineage.ColumnLineageField{
						"id": {InputFields: []openlineage.InputField{{
							Namespace: "warehouse", Name: "a", Field: "id",
							Transformations: []openlineage.Transformation{{
								Type: openlineage.TransformationDirect, Subtype: openlineage.SubtypeIdentity, Description: "direct",
							}},
						}}},
					},
				},
			},
		}},
	}
}

func TestRunEvent_TopLevelKeys(t *testing.T) {
	data, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"eventTime", "eventType", "inputs", "job", "outputs", "run"}, keys)
	assert.Equal(t, "2025-08-02T11:00:00Z", doc["eventTime"])
}

func TestRunEvent_FacetShape(t *testing.T) {
	data, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	var doc struct {
		Run struct {
			Facets map[string]any `json:"facets"`
		} `json:"run"`
		Job struct {
			Facets struct {
				SQL map[string]any `json:"sql"`
			} `json:"facets"`
		} `json:"job"`
		Outputs []struct {
			Facets struct {
				ColumnLineage struct {
					Producer string                    `json:"_producer"`
					Fields   map[string]map[string]any `json:"fields"`
				} `json:"columnLineage"`
			} `json:"facets"`
		} `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Empty(t, doc.Run.Facets, "parent omitted when unset")
	assert.Equal(t, "https://openlineage.io/spec/facets/1-0-0/SqlJobFacet.json", doc.Job.Facets.SQL["_schemaURL"])
	assert.Equal(t, "SELECT id FROM a", doc.Job.Facets.SQL["query"])
	require.Len(t, doc.Outputs, 1)
	assert.Equal(t, "https://openlineage.io/sql", doc.Outputs[0].Facets.ColumnLineage.Producer)
	assert.Contains(t, doc.Outputs[0].Facets.ColumnLineage.Fields["id"], "inputFields")
}

func TestRunEvent_YAMLFlattensBaseFacet(t *testing.T) {
	data, err := yaml.Marshal(sampleEvent())
	require.NoError(t, err)
	assert.Contains(t, string(data), "_producer: https://openlineage.io/sql")
	assert.NotContains(t, string(data), "basefacet")
}

func TestNewBaseFacet_DefaultProducer(t *testing.T) {
	f := openlineage.NewBaseFacet("", openlineage.OwnershipDatasetFacetSchema)
	assert.Equal(t, openlineage.DefaultProducer, f.Producer)
	assert.Equal(t, "https://openlineage.io/spec/facets/1-0-0/OwnershipDatasetFacet.json", f.SchemaURL)
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, openlineage.EventComplete.Valid())
	assert.False(t, openlineage.EventType("DONE").Valid())
}

func TestDataset_Key(t *testing.T) {
	a := openlineage.Dataset{Namespace: "ns", Name: "a"}
	b := openlineage.Dataset{Namespace: "ns", Name: "a", Facets: openlineage.DatasetFacets{}}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), openlineage.Dataset{Namespace: "ns2", Name: "a"}.Key())
}
