package vectorstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Record is one stored vector.
type Record struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// Match is one ranked query result. Values and Metadata are populated only
// when requested.
type Match struct {
	ID       string    `json:"id"`
	Score    float32   `json:"score"`
	Values   []float32 `json:"values,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// QueryRequest selects the query vector either directly (Vector) or by the
// ID of a stored record. Exactly one of the two must be set.
type QueryRequest struct {
	Vector          []float32
	ID              string
	TopK            int
	Namespace       string
	Filter          Filter
	IncludeValues   bool
	IncludeMetadata bool
}

type QueryResponse struct {
	Matches   []Match `json:"matches"`
	Namespace string  `json:"namespace"`
}

type FetchResponse struct {
	Vectors   map[string]Record `json:"vectors"`
	Namespace string            `json:"namespace"`
}

// DeleteRequest removes records by IDs, by Filter, or all records of the
// namespace (DeleteAll). Exactly one selector must be set.
type DeleteRequest struct {
	IDs       []string
	DeleteAll bool
	Namespace string
	Filter    Filter
}

// UpdateRequest changes the values and/or merges metadata of one record.
// Fields left nil are kept.
type UpdateRequest struct {
	ID          string
	Values      []float32
	SetMetadata Metadata
	Namespace   string
}

type NamespaceStats struct {
	VectorCount int64 `json:"vectorCount"`
}

type IndexStats struct {
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
	Dimension        int                       `json:"dimension"`
	IndexFullness    float64                   `json:"indexFullness"`
	TotalVectorCount int64                     `json:"totalVectorCount"`
}

// Metric is the similarity function an index ranks by.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

func (m Metric) Valid() bool {
	switch m {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return true
	}
	return false
}

// IndexState is the lifecycle state reported by describe-index.
type IndexState string

const (
	StateInitializing IndexState = "Initializing"
	StateReady        IndexState = "Ready"
	StateScalingUp    IndexState = "ScalingUp"
	StateScalingDown  IndexState = "ScalingDown"
	StateTerminating  IndexState = "Terminating"
)

// Serving reports whether data-plane calls are accepted in this state.
func (s IndexState) Serving() bool {
	return s == StateReady || s == StateScalingUp || s == StateScalingDown
}

// PodFamily is the hardware class of an index pod.
type PodFamily string

const (
	PodP1 PodFamily = "p1"
	PodS1 PodFamily = "s1"
	PodP2 PodFamily = "p2"
)

// PodSize is the per-pod capacity multiplier.
type PodSize string

const (
	SizeX1 PodSize = "x1"
	SizeX2 PodSize = "x2"
	SizeX4 PodSize = "x4"
	SizeX8 PodSize = "x8"
)

// PodType is a family/size pair such as p1.x1.
type PodType struct {
	Family PodFamily
	Size   PodSize
}

// DefaultPodType is p1.x1.
var DefaultPodType = PodType{Family: PodP1, Size: SizeX1}

func (p PodType) String() string {
	if p.IsZero() {
		return ""
	}
	return string(p.Family) + "." + string(p.Size)
}

func (p PodType) IsZero() bool { return p.Family == "" && p.Size == "" }

func (p PodType) Validate() error {
	switch p.Family {
	case PodP1, PodS1, PodP2:
	default:
		return fmt.Errorf("unknown pod family %q", p.Family)
	}
	switch p.Size {
	case SizeX1, SizeX2, SizeX4, SizeX8:
	default:
		return fmt.Errorf("unknown pod size %q", p.Size)
	}
	return nil
}

// ParsePodType reads "family.size"; a bare family implies x1.
func ParsePodType(s string) (PodType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	fam, size, ok := strings.Cut(s, ".")
	if !ok {
		size = string(SizeX1)
	}
	p := PodType{Family: PodFamily(fam), Size: PodSize(size)}
	if err := p.Validate(); err != nil {
		return PodType{}, err
	}
	return p, nil
}

func (p PodType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PodType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = PodType{}
		return nil
	}
	v, err := ParsePodType(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MetadataConfig restricts which metadata fields are indexed for filtering.
type MetadataConfig struct {
	Indexed []string `json:"indexed,omitempty"`
}

// IndexDatabase is the configuration half of an index description.
type IndexDatabase struct {
	Name             string          `json:"name"`
	Dimension        int             `json:"dimension"`
	Metric           Metric          `json:"metric"`
	Replicas         int             `json:"replicas"`
	Shards           int             `json:"shards"`
	Pods             int             `json:"pods"`
	PodType          PodType         `json:"pod_type"`
	MetadataConfig   *MetadataConfig `json:"metadata_config,omitempty"`
	SourceCollection string          `json:"source_collection,omitempty"`
}

type IndexStatus struct {
	Ready bool       `json:"ready"`
	State IndexState `json:"state"`
	Host  string     `json:"host,omitempty"`
	Port  int        `json:"port,omitempty"`
}

// IndexDescription mirrors the describe-index response.
type IndexDescription struct {
	Database IndexDatabase `json:"database"`
	Status   IndexStatus   `json:"status"`
}

// CreateIndexRequest is the body of POST /databases. Zero-valued optional
// fields take the defaults applied by WithDefaults.
type CreateIndexRequest struct {
	Name             string          `json:"name"`
	Dimension        int             `json:"dimension"`
	Metric           Metric          `json:"metric,omitempty"`
	Pods             int             `json:"pods,omitempty"`
	Replicas         int             `json:"replicas,omitempty"`
	Shards           int             `json:"shards,omitempty"`
	PodType          PodType         `json:"pod_type"`
	MetadataConfig   *MetadataConfig `json:"metadata_config,omitempty"`
	SourceCollection string          `json:"source_collection,omitempty"`
}

// WithDefaults fills cosine, p1.x1, one shard, one replica and
// pods = shards * replicas.
func (r CreateIndexRequest) WithDefaults() CreateIndexRequest {
	if r.Metric == "" {
		r.Metric = MetricCosine
	}
	if r.PodType.IsZero() {
		r.PodType = DefaultPodType
	}
	if r.Shards == 0 {
		r.Shards = 1
	}
	if r.Replicas == 0 {
		r.Replicas = 1
	}
	if r.Pods == 0 {
		r.Pods = r.Shards * r.Replicas
	}
	return r
}

// MaxDimension is the largest dimension the service accepts.
const MaxDimension = 20000

func (r CreateIndexRequest) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.Dimension <= 0 || r.Dimension > MaxDimension {
		return fmt.Errorf("dimension must be between 1 and %d, got %d", MaxDimension, r.Dimension)
	}
	if r.Metric != "" && !r.Metric.Valid() {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	if r.Pods < 0 || r.Replicas < 0 || r.Shards < 0 {
		return fmt.Errorf("pods, replicas and shards must not be negative")
	}
	if !r.PodType.IsZero() {
		if err := r.PodType.Validate(); err != nil {
			return err
		}
	}
	if r.SourceCollection != "" {
		if err := ValidateName(r.SourceCollection); err != nil {
			return fmt.Errorf("source collection: %w", err)
		}
	}
	return nil
}

// ConfigureIndexRequest is the body of PATCH /databases/{name}.
type ConfigureIndexRequest struct {
	Replicas *int     `json:"replicas,omitempty"`
	PodType  *PodType `json:"pod_type,omitempty"`
}

func (r ConfigureIndexRequest) Validate() error {
	if r.Replicas == nil && r.PodType == nil {
		return fmt.Errorf("nothing to configure")
	}
	if r.Replicas != nil && *r.Replicas < 0 {
		return fmt.Errorf("replicas must not be negative, got %d", *r.Replicas)
	}
	if r.PodType != nil {
		if err := r.PodType.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type CollectionDescription struct {
	Name        string `json:"name"`
	Source      string `json:"source,omitempty"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
	Dimension   int    `json:"dimension,omitempty"`
	VectorCount int64  `json:"vector_count,omitempty"`
}

type CreateCollectionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func (r CreateCollectionRequest) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if err := ValidateName(r.Source); err != nil {
		return fmt.Errorf("source index: %w", err)
	}
	return nil
}

// WhoAmI is the response of GET /actions/whoami.
type WhoAmI struct {
	ProjectName string `json:"project_name"`
	UserLabel   string `json:"user_label,omitempty"`
	UserName    string `json:"user_name,omitempty"`
}

var nameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// MaxNameLength bounds index and collection names.
const MaxNameLength = 45

// ValidateName checks an index or collection name: lowercase alphanumerics
// and inner hyphens, at most MaxNameLength characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name %q is longer than %d characters", name, MaxNameLength)
	}
	if !nameRE.MatchString(name) {
		return fmt.Errorf("name %q must consist of lowercase letters, digits and inner hyphens", name)
	}
	return nil
}
