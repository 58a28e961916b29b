// Package boltdal is a bbolt-backed fake of the NDB storage cluster
// (rdrs_dal, spec.md §1), used by tests and local/dev deployments in
// place of a real RonDB binding. It implements dal.StorageClient,
// dal.MetadataBackend and dal.AuthBackend against a single bbolt file,
// following the teacher's pkg/storage/boltdb.go conventions: one bucket
// per entity kind, JSON-marshaled values keyed by an entity id, row
// lookup/iteration via bbolt cursors.
package boltdal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/agg"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/scan"
)

var (
	bucketFeatureStores = []byte("feature_stores")
	bucketFeatureViews  = []byte("feature_views")
	bucketTDJoins       = []byte("td_joins")
	bucketTDFeatures    = []byte("td_features")
	bucketFeatureGroups = []byte("feature_groups")
	bucketServingKeys   = []byte("serving_keys")
	bucketAvroSchemas   = []byte("avro_schemas")
	bucketAPIKeys       = []byte("api_keys")
	bucketProjects      = []byte("projects")
)

var allBuckets = [][]byte{
	bucketFeatureStores, bucketFeatureViews, bucketTDJoins, bucketTDFeatures,
	bucketFeatureGroups, bucketServingKeys, bucketAvroSchemas, bucketAPIKeys,
	bucketProjects,
}

// DB wraps a bbolt database file with the buckets boltdal requires.
type DB struct {
	bdb *bolt.DB
}

// Open creates (if needed) the bbolt file at path and its buckets.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltdal: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &DB{bdb: bdb}, nil
}

func (d *DB) Close() error { return d.bdb.Close() }

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get[T any](tx *bolt.Tx, bucket []byte, key string) (T, bool, error) {
	var v T
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return v, false, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// --- seeding (used by tests and local/dev bootstrap) ---

// SeedFeatureStore writes a {fsID -> fsName} row.
func (d *DB) SeedFeatureStore(fsID int, fsName string) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketFeatureStores, strconv.Itoa(fsID), fsName)
	})
}

// SeedFeatureView writes a {(fsID,name,version) -> fvID} row.
func (d *DB) SeedFeatureView(fsID int, name string, version, fvID int) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		key := fmt.Sprintf("%d|%s|%d", fsID, name, version)
		return put(tx, bucketFeatureViews, key, fvID)
	})
}

func (d *DB) SeedTrainingDatasetJoins(fvID int, joins []dal.TrainingDatasetJoin) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketTDJoins, strconv.Itoa(fvID), joins)
	})
}

func (d *DB) SeedTrainingDatasetFeatures(fvID int, feats []dal.TrainingDatasetFeature) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketTDFeatures, strconv.Itoa(fvID), feats)
	})
}

func (d *DB) SeedFeatureGroup(row dal.FeatureGroupRow) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketFeatureGroups, strconv.Itoa(row.FGID), row)
	})
}

func (d *DB) SeedServingKeys(fvID int, keys []dal.ServingKey) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketServingKeys, strconv.Itoa(fvID), keys)
	})
}

func (d *DB) SeedAvroSchema(fgID int, schemaJSON string) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketAvroSchemas, strconv.Itoa(fgID), schemaJSON)
	})
}

func (d *DB) SeedAPIKey(prefix string, rec dal.AuthKeyRecord) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketAPIKeys, prefix, rec)
	})
}

func (d *DB) SeedProjects(userID int, dbs []string) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketProjects, strconv.Itoa(userID), dbs)
	})
}

// --- dal.MetadataBackend ---

func (d *DB) FindFeatureStoreID(ctx context.Context, fsName string) (int, error) {
	id := -1
	err := d.bdb.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFeatureStores).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var name string
			if err := json.Unmarshal(v, &name); err != nil {
				return err
			}
			if name == fsName {
				n, err := strconv.Atoi(string(k))
				if err != nil {
					return err
				}
				id = n
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, dal.ErrNotFound
	}
	return id, nil
}

func (d *DB) FindFeatureViewID(ctx context.Context, fsID int, fvName string, version int) (int, error) {
	var id int
	var found bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		key := fmt.Sprintf("%d|%s|%d", fsID, fvName, version)
		v, ok, err := get[int](tx, bucketFeatureViews, key)
		if err != nil {
			return err
		}
		id, found = v, ok
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, dal.ErrNotFound
	}
	return id, nil
}

func (d *DB) FindTrainingDatasetJoinData(ctx context.Context, fvID int) ([]dal.TrainingDatasetJoin, error) {
	var out []dal.TrainingDatasetJoin
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, _, err := get[[]dal.TrainingDatasetJoin](tx, bucketTDJoins, strconv.Itoa(fvID))
		out = v
		return err
	})
	return out, err
}

func (d *DB) FindTrainingDatasetData(ctx context.Context, fvID int) ([]dal.TrainingDatasetFeature, error) {
	var out []dal.TrainingDatasetFeature
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, _, err := get[[]dal.TrainingDatasetFeature](tx, bucketTDFeatures, strconv.Itoa(fvID))
		out = v
		return err
	})
	return out, err
}

func (d *DB) FindFeatureGroupData(ctx context.Context, fgID int) (dal.FeatureGroupRow, error) {
	var row dal.FeatureGroupRow
	var found bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, ok, err := get[dal.FeatureGroupRow](tx, bucketFeatureGroups, strconv.Itoa(fgID))
		row, found = v, ok
		return err
	})
	if err != nil {
		return row, err
	}
	if !found {
		return row, dal.ErrNotFound
	}
	return row, nil
}

func (d *DB) FindFeatureStoreData(ctx context.Context, fsID int) (string, error) {
	var name string
	var found bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, ok, err := get[string](tx, bucketFeatureStores, strconv.Itoa(fsID))
		name, found = v, ok
		return err
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", dal.ErrNotFound
	}
	return name, nil
}

func (d *DB) FindServingKeyData(ctx context.Context, fvID int) ([]dal.ServingKey, error) {
	var out []dal.ServingKey
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, _, err := get[[]dal.ServingKey](tx, bucketServingKeys, strconv.Itoa(fvID))
		out = v
		return err
	})
	return out, err
}

func (d *DB) FindAvroSchema(ctx context.Context, fgID int) (string, error) {
	var schema string
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, _, err := get[string](tx, bucketAvroSchemas, strconv.Itoa(fgID))
		schema = v
		return err
	})
	return schema, err
}

// --- dal.AuthBackend ---

func (d *DB) FindAPIKey(ctx context.Context, prefix string) (dal.AuthKeyRecord, error) {
	var rec dal.AuthKeyRecord
	var found bool
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, ok, err := get[dal.AuthKeyRecord](tx, bucketAPIKeys, prefix)
		rec, found = v, ok
		return err
	})
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, dal.ErrNotFound
	}
	return rec, nil
}

func (d *DB) FindAllProjects(ctx context.Context, userID int) ([]string, error) {
	var out []string
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v, _, err := get[[]string](tx, bucketProjects, strconv.Itoa(userID))
		out = v
		return err
	})
	return out, err
}

// --- dal.StorageClient ---

// Row is one feature-group table row, as stored by tableBucket. Columns
// holds typed values keyed by column name; NumericCols holds the same
// values projected to int64 in a caller-defined order, for the
// aggregator's register Load(col_idx) instructions.
type Row struct {
	Columns     map[string][]byte
	NumericCols []int64
}

func tableBucketName(db, table string) string { return "t:" + db + "/" + table }

// PutRow seeds one feature-group table row under a primary-key-derived
// key built from pk (column -> value, matching the Filters a PK-read
// would supply).
func (d *DB) PutRow(db, table string, pk map[string]string, row Row) error {
	return d.bdb.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(tableBucketName(db, table)))
		if err != nil {
			return err
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(pkKey(pk)), data)
	})
}

func pkKey(pk map[string]string) string {
	cols := make([]string, 0, len(pk))
	for c := range pk {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, c+"="+pk[c])
	}
	return strings.Join(parts, "&")
}

func filtersToPK(filters []dal.Filter) map[string]string {
	pk := make(map[string]string, len(filters))
	for _, f := range filters {
		pk[f.Column] = string(f.Value)
	}
	return pk
}

func (d *DB) Connect(ctx context.Context) error { return nil }

// BatchPKRead implements dal.StorageClient: each request is looked up by
// its filters' derived primary key and projected through ReadColumns.
func (d *DB) BatchPKRead(ctx context.Context, reqs []dal.PKReadRequest) ([]dal.PKReadResponse, error) {
	out := make([]dal.PKReadResponse, len(reqs))
	err := d.bdb.View(func(tx *bolt.Tx) error {
		for i, req := range reqs {
			b := tx.Bucket([]byte(tableBucketName(req.DB, req.Table)))
			if b == nil {
				out[i] = dal.PKReadResponse{OperationID: req.OperationID, Status: 404, Message: "table not found"}
				continue
			}
			data := b.Get([]byte(pkKey(filtersToPK(req.Filters))))
			if data == nil {
				out[i] = dal.PKReadResponse{OperationID: req.OperationID, Status: 404, Message: "row not found"}
				continue
			}
			var row Row
			if err := json.Unmarshal(data, &row); err != nil {
				out[i] = dal.PKReadResponse{OperationID: req.OperationID, Status: 500, Message: err.Error()}
				continue
			}
			cols := make([]dal.ColumnValue, 0, len(req.ReadColumns))
			for _, rc := range req.ReadColumns {
				v, ok := row.Columns[rc.Name]
				cols = append(cols, dal.ColumnValue{Name: rc.Name, Value: v, IsNull: !ok})
			}
			out[i] = dal.PKReadResponse{OperationID: req.OperationID, Status: 200, Columns: cols}
		}
		return nil
	})
	return out, err
}

// RunAggregation implements dal.StorageClient for local/dev use: it
// applies the scan plan's bounds (if an IndexScan) to NumericCols[0] as
// the indexed column, executes the compiled aggregator program over each
// surviving row's NumericCols, accumulates one result group for the
// whole table (this fake does not implement GROUP BY partitioning), and
// yields that single summary row.
func (d *DB) RunAggregation(ctx context.Context, db, table string, programBytes, scanBytes []byte, yield func(row []any) error) error {
	var prog agg.Program
	if err := json.Unmarshal(programBytes, &prog); err != nil {
		return fmt.Errorf("boltdal: decode program: %w", err)
	}
	var plan scan.ScanPlan
	if err := json.Unmarshal(scanBytes, &plan); err != nil {
		return fmt.Errorf("boltdal: decode scan plan: %w", err)
	}

	acc := newAccumulator(&prog)

	err := d.bdb.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tableBucketName(db, table)))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if plan.Kind == scan.KindIndexScan && !boundsPass(plan.Bounds, row.NumericCols) {
				return nil
			}
			acc.observe(row.NumericCols)
			return nil
		})
	})
	if err != nil {
		return err
	}

	return yield(acc.finalize())
}

func boundsPass(bounds []scan.Bound, cols []int64) bool {
	if len(cols) == 0 {
		return true
	}
	v := cols[0]
	for _, b := range bounds {
		switch b.Kind {
		case scan.BoundEQ:
			if v != b.Value {
				return false
			}
		case scan.BoundLE:
			if v < b.Value {
				return false
			}
		case scan.BoundLT:
			if v <= b.Value {
				return false
			}
		case scan.BoundGE:
			if v > b.Value {
				return false
			}
		case scan.BoundGT:
			if v >= b.Value {
				return false
			}
		}
	}
	return true
}

// NewOperationID generates a unique per-operation id for PK-read
// requests the dispatcher constructs itself (rather than ones derived
// from feature-group join indices, spec.md §4.5.1).
func NewOperationID() string { return uuid.NewString() }
