// Package dispatcher implements the core request orchestration of
// spec.md §4.9: the feature-vector request flow (metadata lookup,
// validation, authorization, PK-read planning/encoding/dispatch, vector
// assembly) and the aggregation SQL request flow (lex/parse, DAG
// construction, scan planning, register-program compilation, printer
// program, explain-or-execute).
package dispatcher

import (
	"context"
	"fmt"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/bufpool"
	"github.com/logicalclocks/rdrs2go/internal/cache/apikeycache"
	"github.com/logicalclocks/rdrs2go/internal/cache/fvcache"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/featurestore"
	"github.com/logicalclocks/rdrs2go/internal/featurestore/rawpk"
)

// Config bounds request size and shape (Internal.* in spec.md §6.4).
type Config struct {
	MaxRequestBytes    int
	BatchMaxSize       int
	OperationIDMaxSize int
	RequireAPIKey      bool
}

// Dispatcher wires the caches, storage client and buffer pool into the
// request flows of spec.md §4.9. Its PK-read submission is delegated to
// internal/featurestore/rawpk, the generic path the feature-vector
// planner's reads are themselves built on top of (spec.md §4.11).
type Dispatcher struct {
	FVCache *fvcache.Cache
	APIKeys *apikeycache.Cache
	Storage dal.StorageClient
	Bufs    *bufpool.Pool
	Cfg     Config
	rawpk   *rawpk.Handler
}

// New constructs a Dispatcher from its collaborators.
func New(fv *fvcache.Cache, apiKeys *apikeycache.Cache, storage dal.StorageClient, bufs *bufpool.Pool, cfg Config) *Dispatcher {
	rp := rawpk.New(storage, bufs, rawpk.Config{
		MaxRequestBytes:    cfg.MaxRequestBytes,
		BatchMaxSize:       cfg.BatchMaxSize,
		OperationIDMaxSize: cfg.OperationIDMaxSize,
	})
	return &Dispatcher{FVCache: fv, APIKeys: apiKeys, Storage: storage, Bufs: bufs, Cfg: cfg, rawpk: rp}
}

// Raw returns the generic PK-read handler backing
// POST /{version}/{db}/{table}/pk-read and POST /{version}/batch.
func (d *Dispatcher) Raw() *rawpk.Handler { return d.rawpk }

// FeatureVectorRequest is the decoded request body for
// POST /{version}/feature_store (spec.md §6.2).
type FeatureVectorRequest struct {
	FeatureStoreName   string         `json:"featureStoreName"`
	FeatureViewName    string         `json:"featureViewName"`
	FeatureViewVersion int            `json:"featureViewVersion"`
	Entries            map[string]any `json:"entries"`
	PassedFeatures     map[string]any `json:"passedFeatures"`
	APIKey             string         `json:"-"`
}

// FeatureVectorResponse is the rendered response body.
type FeatureVectorResponse struct {
	Status   string `json:"status"`
	Features []any  `json:"features"`
}

// bodyTooLarge is the shape-level bounds check of spec.md §4.9 step 1.
func (d *Dispatcher) bodyTooLarge(bodySize int) error {
	if d.Cfg.MaxRequestBytes > 0 && bodySize > d.Cfg.MaxRequestBytes {
		return apierrors.ClientErr("REQUEST_TOO_LARGE", fmt.Sprintf("request body of %d bytes exceeds the configured limit", bodySize))
	}
	return nil
}

// HandleFeatureVector implements spec.md §4.9's feature-vector flow for a
// single entry set.
func (d *Dispatcher) HandleFeatureVector(ctx context.Context, req FeatureVectorRequest, bodySize int) (*FeatureVectorResponse, error) {
	if err := d.bodyTooLarge(bodySize); err != nil {
		return nil, err
	}

	meta, release, err := d.FVCache.Get(ctx, req.FeatureStoreName, req.FeatureViewName, req.FeatureViewVersion)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := featurestore.ValidatePrimaryKey(meta, req.Entries); err != nil {
		return nil, err
	}
	if err := featurestore.ValidatePassedFeatures(meta, req.PassedFeatures); err != nil {
		return nil, err
	}

	if d.Cfg.RequireAPIKey {
		if err := d.APIKeys.Validate(ctx, req.APIKey, meta.AuthorizedDatabases()); err != nil {
			return nil, err
		}
	}

	reqs := featurestore.PlanPKReads(meta, req.Entries)
	if err := rawpk.ValidatePlannedReads(reqs, d.rawpkConfig()); err != nil {
		return nil, err
	}

	responses, err := d.rawpk.RunBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	vec := featurestore.AssembleVector(meta, responses, req.Entries)
	featurestore.OverlayPassedFeatures(meta, &vec, req.PassedFeatures)

	return &FeatureVectorResponse{Status: vec.Status.String(), Features: vec.Features}, nil
}

// HandleBatchFeatureVector implements spec.md §4.9's flow for
// POST /{version}/batch_feature_store: the same steps, per entry, sharing
// one metadata lookup and one authorization check.
func (d *Dispatcher) HandleBatchFeatureVector(ctx context.Context, fsName, fvName string, version int, entriesBatch []map[string]any, passedBatch []map[string]any, apiKey string, bodySize int) ([]*FeatureVectorResponse, error) {
	if err := d.bodyTooLarge(bodySize); err != nil {
		return nil, err
	}
	if len(entriesBatch) == 0 {
		return nil, apierrors.ClientErr(apierrors.CodeNoPrimaryKeyGiven, "no primary key given")
	}
	if d.Cfg.BatchMaxSize > 0 && len(entriesBatch) > d.Cfg.BatchMaxSize {
		return nil, apierrors.ClientErr("BATCH_TOO_LARGE", fmt.Sprintf("batch of %d entries exceeds the configured limit", len(entriesBatch)))
	}
	if len(passedBatch) > 0 && len(passedBatch) != len(entriesBatch) {
		return nil, apierrors.ClientErr(apierrors.CodeIncorrectPassedFeature, fmt.Sprintf("passedFeatures length %d does not match entries length %d", len(passedBatch), len(entriesBatch)))
	}

	meta, release, err := d.FVCache.Get(ctx, fsName, fvName, version)
	if err != nil {
		return nil, err
	}
	defer release()

	skip := make([]bool, len(entriesBatch))
	entryErrs := make([]error, len(entriesBatch))
	for i, entries := range entriesBatch {
		if err := featurestore.ValidatePrimaryKey(meta, entries); err != nil {
			skip[i] = true
			entryErrs[i] = err
			continue
		}
		var passed map[string]any
		if i < len(passedBatch) {
			passed = passedBatch[i]
		}
		if err := featurestore.ValidatePassedFeatures(meta, passed); err != nil {
			skip[i] = true
			entryErrs[i] = err
		}
	}

	if d.Cfg.RequireAPIKey {
		if err := d.APIKeys.Validate(ctx, apiKey, meta.AuthorizedDatabases()); err != nil {
			return nil, err
		}
	}

	plans := featurestore.PlanBatchPKReads(meta, entriesBatch, skip)

	out := make([]*FeatureVectorResponse, len(entriesBatch))
	for i, reqs := range plans {
		if skip[i] {
			out[i] = &FeatureVectorResponse{Status: featurestore.StatusError.String()}
			continue
		}
		if err := rawpk.ValidatePlannedReads(reqs, d.rawpkConfig()); err != nil {
			out[i] = &FeatureVectorResponse{Status: featurestore.StatusError.String()}
			continue
		}
		responses, err := d.rawpk.RunBatch(ctx, reqs)
		if err != nil {
			out[i] = &FeatureVectorResponse{Status: featurestore.StatusError.String()}
			continue
		}
		var passed map[string]any
		if i < len(passedBatch) {
			passed = passedBatch[i]
		}
		vec := featurestore.AssembleVector(meta, responses, entriesBatch[i])
		featurestore.OverlayPassedFeatures(meta, &vec, passed)
		out[i] = &FeatureVectorResponse{Status: vec.Status.String(), Features: vec.Features}
	}
	return out, nil
}

func (d *Dispatcher) rawpkConfig() rawpk.Config {
	return rawpk.Config{
		MaxRequestBytes:    d.Cfg.MaxRequestBytes,
		BatchMaxSize:       d.Cfg.BatchMaxSize,
		OperationIDMaxSize: d.Cfg.OperationIDMaxSize,
	}
}

// isValidIdentifier applies the wire-format identifier rule (spec.md
// §6.1): a non-empty run of letters, digits and underscores, not starting
// with a digit.
func isValidIdentifier(s string) bool { return rawpk.IsValidIdentifier(s) }
