package core

// MetricKind identifies the shape of a metric definition.
type MetricKind string

// Metric kinds accepted by the compiler.
const (
	MetricSimple         MetricKind = "simple"
	MetricRatio          MetricKind = "ratio"
	MetricDerived        MetricKind = "derived"
	MetricCumulative     MetricKind = "cumulative"
	MetricConversion     MetricKind = "conversion"
	MetricTimeComparison MetricKind = "time_comparison"
)

// ValidMetricKinds lists every accepted metric kind.
var ValidMetricKinds = []MetricKind{
	MetricSimple, MetricRatio, MetricDerived,
	MetricCumulative, MetricConversion, MetricTimeComparison,
}

// IsValidMetricKind reports whether k names a known metric kind.
func IsValidMetricKind(k MetricKind) bool {
	for _, v := range ValidMetricKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Metric is a fully resolved, typed metric definition. It is produced once
// from a MetricDef after expansion and never mutated afterwards.
type Metric struct {
	Name        string
	Description string
	Label       string
	Kind        MetricKind

	Source    string
	SourceRef *SourceRef

	// Simple / cumulative metrics.
	Measure *Measure

	// Ratio metrics.
	Numerator   *MetricInput
	Denominator *MetricInput

	// Derived metrics.
	Expression string

	// Cumulative metrics.
	Window      string
	GrainToDate string
	Offsets     []OffsetWindow

	// Conversion metrics.
	BaseMeasure       *MetricInput
	ConversionMeasure *MetricInput
	Entity            string

	// EntitySet pulls a named group of entities and their join paths into
	// the metric's source model.
	EntitySet string

	// Metric referenced by name from a semantic model.
	SemanticModel string
	MeasureRef    string

	Dimensions    []Dimension
	Filter        string
	FillNullsWith any
	TimeSpine     string
	Comparison    *Comparison
	Meta          map[string]any
	Config        map[string]any

	Pos Pos
}

// MetricInput is one side of a ratio or conversion metric: a source table
// plus the measure computed over it, optionally filtered.
type MetricInput struct {
	Source  string
	Measure *Measure
	Filter  string
}

// Comparison carries time_comparison variant parameters.
type Comparison struct {
	Period     string `yaml:"period"`
	BaseMetric string `yaml:"base_metric"`
}

// OffsetWindow shifts a cumulative metric against its time spine.
type OffsetWindow struct {
	Period string `yaml:"period"`
	Offset int    `yaml:"offset"`
	Alias  string `yaml:"alias,omitempty"`
}

// Measure is an aggregation over a source column or expression.
type Measure struct {
	Name          string         `yaml:"name"`
	Agg           string         `yaml:"agg"`
	Expr          string         `yaml:"expr,omitempty"`
	Filters       []string       `yaml:"filters,omitempty"`
	TimeDimension string         `yaml:"time_dimension,omitempty"`
	Percentile    float64        `yaml:"percentile,omitempty"`
	AggParams     map[string]any `yaml:"agg_params,omitempty"`
}

// ValidAggregations is the accepted set for Measure.Agg, after input aliases
// (avg, last_value, ...) have been normalized.
var ValidAggregations = []string{
	"sum", "average", "count", "count_distinct", "min", "max",
	"median", "percentile", "stddev", "variance", "sum_boolean",
}

// IsValidAggregation reports whether agg is an accepted aggregation.
func IsValidAggregation(agg string) bool {
	for _, v := range ValidAggregations {
		if v == agg {
			return true
		}
	}
	return false
}

// NormalizeAggregation maps input aliases onto canonical aggregation names.
// Unknown values pass through unchanged so validation can report them.
func NormalizeAggregation(agg string) string {
	switch agg {
	case "avg":
		return "average"
	case "last_value":
		return "max"
	case "first_value":
		return "min"
	default:
		return agg
	}
}
