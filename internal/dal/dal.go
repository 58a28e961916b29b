// Package dal declares the contracts the core requires of the native
// storage-cluster client library (rdrs_dal, spec.md §1/§6.1) and of the two
// backend services the caches populate from: the Hopsworks API-key/project
// authorization backend (spec.md §4.3) and the feature-store metadata
// backend (spec.md §4.4.1). This package is the implementation-agnostic
// boundary; internal/dal/boltdal provides a bbolt-backed implementation
// used by tests and local/dev deployments in place of a real rdrs_dal
// binding.
package dal

import "context"

// AuthKeyRecord is what find_api_key(prefix) returns (spec.md §4.3).
type AuthKeyRecord struct {
	SecretHash string // lowercase hex sha256(secret||salt)
	Salt       string
	UserID     int
}

// AuthBackend is the Hopsworks API-key/project authorization backend.
type AuthBackend interface {
	FindAPIKey(ctx context.Context, prefix string) (AuthKeyRecord, error)
	FindAllProjects(ctx context.Context, userID int) ([]string, error)
}

// FeatureGroupRow is one row from find_feature_group_data.
type FeatureGroupRow struct {
	FGID          int
	Name          string
	FSID          int
	Version       int
	OnlineEnabled bool
}

// TrainingDatasetFeature is one row from find_training_dataset_data.
type TrainingDatasetFeature struct {
	FeatureID int
	FGID      int
	Name      string
	Type      string
	TDJoinID  int
	Idx       int
	Label     bool
}

// TrainingDatasetJoin is one row from find_training_dataset_join_data.
type TrainingDatasetJoin struct {
	TDJoinID  int
	Prefix    string
	JoinIndex int
}

// ServingKey is one row from find_serving_key_data.
type ServingKey struct {
	FGID        int
	FeatureName string
	Prefix      string
	Required    bool
	JoinOn      string
	JoinIndex   int
}

// MetadataBackend is the feature-store metadata backend consulted by
// internal/cache/fvcache (spec.md §4.4.1).
type MetadataBackend interface {
	FindFeatureStoreID(ctx context.Context, fsName string) (int, error)
	FindFeatureViewID(ctx context.Context, fsID int, fvName string, version int) (int, error)
	FindTrainingDatasetJoinData(ctx context.Context, fvID int) ([]TrainingDatasetJoin, error)
	FindTrainingDatasetData(ctx context.Context, fvID int) ([]TrainingDatasetFeature, error)
	FindFeatureGroupData(ctx context.Context, fgID int) (FeatureGroupRow, error)
	FindFeatureStoreData(ctx context.Context, fsID int) (string, error)
	FindServingKeyData(ctx context.Context, fvID int) ([]ServingKey, error)
	FindAvroSchema(ctx context.Context, fgID int) (string, error) // Avro schema JSON for the feature group's complex columns
}

// ErrNotFound is returned by MetadataBackend/AuthBackend lookups for an
// absent row; callers map it to the appropriate NOT_FOUND-ish code per
// spec.md §4.4.1 step 1/2.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "dal: not found" }

// Filter is one equality filter in a PK-read request (spec.md §6.1).
type Filter struct {
	Column string
	Value  []byte // NDB-typed variable-length buffer, already encoded
}

// ReadColumn is one column to project back in a PK-read response.
type ReadColumn struct {
	Name       string
	ReturnType int32 // DataReturnType, spec.md §6.1; DEFAULT_DRT = 1
}

// PKReadRequest is the core's view of one native PK-read operation,
// independent of its wire encoding (spec.md §6.1 describes the wire form;
// internal/pkwire encodes/decodes it).
type PKReadRequest struct {
	DB          string
	Table       string
	OperationID string
	Filters     []Filter
	ReadColumns []ReadColumn
}

// ColumnValue is one returned column in a PK-read response.
type ColumnValue struct {
	Name     string
	Value    []byte
	IsNull   bool
	DataType int32
}

// PKReadResponse is the core's view of one PK-read result.
type PKReadResponse struct {
	OperationID string
	Status      int // HTTP-equivalent status: 200 ok, 404 not found, >=500 server error
	Message     string
	Columns     []ColumnValue
}

// StorageClient is the subset of rdrs_dal the core requires: batched
// primary-key reads (spec.md §6.1), aggregator program submission and scan
// (spec.md §4.6-§4.8). To avoid importing internal/ronsql/agg and
// internal/ronsql/scan here, the scan/aggregate surface is expressed with
// opaque []byte program bytes (JSON-encoded agg.Program / scan.ScanPlan) and
// a row-decoding callback, matching the narrow boundary spec.md §1 assigns
// to rdrs_dal ("connect, batch-PK-read, aggregator program submission, scan
// with filter").
type StorageClient interface {
	Connect(ctx context.Context) error
	BatchPKRead(ctx context.Context, reqs []PKReadRequest) ([]PKReadResponse, error)

	// RunAggregation submits a compiled aggregator program (opaque bytes,
	// produced by internal/ronsql/agg) plus a scan descriptor (opaque
	// bytes, produced by internal/ronsql/scan) and streams result rows to
	// yield. Each row is a slice of column values in register order.
	RunAggregation(ctx context.Context, db, table string, program []byte, scan []byte, yield func(row []any) error) error
}
