// Package rawpk implements the generic, metadata-free primary-key read
// path (spec.md §6.2's `POST /{version}/{db}/{table}/pk-read` and
// `POST /{version}/batch`): a direct db/table/filters/readColumns request
// encoded straight onto internal/pkwire with no feature-view cache and no
// Avro decode involved.
//
// This is the path the feature-store dispatcher's own PK-read planner
// builds on top of (spec.md §4.11): both ultimately round-trip a
// dal.PKReadRequest through internal/pkwire and internal/bufpool before
// calling dal.StorageClient.BatchPKRead.
package rawpk

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/bufpool"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/metrics"
	"github.com/logicalclocks/rdrs2go/internal/pkwire"
)

// Config bounds request size and shape (Internal.* in spec.md §6.4).
type Config struct {
	MaxRequestBytes    int
	BatchMaxSize       int
	OperationIDMaxSize int
}

// Handler serves the generic PK-read surface directly against a
// dal.StorageClient.
type Handler struct {
	Storage dal.StorageClient
	Bufs    *bufpool.Pool
	Cfg     Config
}

// New constructs a Handler from its collaborators.
func New(storage dal.StorageClient, bufs *bufpool.Pool, cfg Config) *Handler {
	return &Handler{Storage: storage, Bufs: bufs, Cfg: cfg}
}

func (h *Handler) bodyTooLarge(bodySize int) error {
	if h.Cfg.MaxRequestBytes > 0 && bodySize > h.Cfg.MaxRequestBytes {
		return apierrors.ClientErr("REQUEST_TOO_LARGE", fmt.Sprintf("request body of %d bytes exceeds the configured limit", bodySize))
	}
	return nil
}

// Read serves a single `POST /{version}/{db}/{table}/pk-read`.
func (h *Handler) Read(ctx context.Context, req dal.PKReadRequest, bodySize int) (dal.PKReadResponse, error) {
	resps, err := h.Batch(ctx, []dal.PKReadRequest{req}, bodySize)
	if err != nil {
		return dal.PKReadResponse{}, err
	}
	return resps[0], nil
}

// Batch serves `POST /{version}/batch`: an array of independent, possibly
// cross-db/table PK reads with no relation to one another.
func (h *Handler) Batch(ctx context.Context, reqs []dal.PKReadRequest, bodySize int) ([]dal.PKReadResponse, error) {
	if err := h.bodyTooLarge(bodySize); err != nil {
		return nil, err
	}
	if h.Cfg.BatchMaxSize > 0 && len(reqs) > h.Cfg.BatchMaxSize {
		return nil, apierrors.ClientErr("BATCH_TOO_LARGE", fmt.Sprintf("batch of %d operations exceeds the configured limit", len(reqs)))
	}
	if err := ValidatePlannedReads(reqs, h.Cfg); err != nil {
		return nil, err
	}
	return h.RunBatch(ctx, reqs)
}

// RunBatch implements spec.md §4.9 steps 8-10: buffer allocation, native
// wire encode/decode (exercising internal/pkwire and internal/bufpool end
// to end even though dal.StorageClient's Go boundary takes typed values
// directly - a real rdrs_dal binding would cross a C boundary at exactly
// this point), then the batched submit. Exported so internal/dispatcher's
// feature-vector flow can reuse it for its own planned PK-reads.
func (h *Handler) RunBatch(ctx context.Context, reqs []dal.PKReadRequest) ([]dal.PKReadResponse, error) {
	start := time.Now()
	defer func() { metrics.PKReadBatchLatency.Observe(time.Since(start).Seconds()) }()

	wired := make([]dal.PKReadRequest, len(reqs))
	for i, r := range reqs {
		respBuf := h.Bufs.GetResponse()
		reqBuf := h.Bufs.GetRequest()
		encoded, err := pkwire.EncodeRequest(r, uint32(len(respBuf)))
		if err != nil {
			h.Bufs.PutRequest(reqBuf)
			h.Bufs.PutResponse(respBuf)
			return nil, apierrors.PermanentErr("PK_READ_ENCODE_FAIL", "failed to encode PK-read request", err)
		}
		decoded, err := pkwire.DecodeRequest(encoded)
		h.Bufs.PutRequest(reqBuf)
		h.Bufs.PutResponse(respBuf)
		if err != nil {
			return nil, apierrors.PermanentErr("PK_READ_DECODE_FAIL", "failed to round-trip PK-read request", err)
		}
		wired[i] = decoded
	}

	responses, err := h.Storage.BatchPKRead(ctx, wired)
	if err != nil {
		return nil, apierrors.TransientErr("PK_READ_BATCH_FAIL", "batch PK-read failed", err)
	}
	return responses, nil
}

// ValidatePlannedReads implements spec.md §4.9 step 7: shape-level
// validation of planned PK-reads before they are submitted.
func ValidatePlannedReads(reqs []dal.PKReadRequest, cfg Config) error {
	for _, r := range reqs {
		if !IsValidIdentifier(r.DB) || !IsValidIdentifier(r.Table) {
			return apierrors.ClientErr("INVALID_IDENTIFIER", fmt.Sprintf("invalid db/table identifier: %s/%s", r.DB, r.Table))
		}
		if cfg.OperationIDMaxSize > 0 && len(r.OperationID) > cfg.OperationIDMaxSize {
			return apierrors.ClientErr("OPERATION_ID_TOO_LONG", "operation id exceeds the configured limit")
		}
		seenFilter := map[string]struct{}{}
		for _, f := range r.Filters {
			if !IsValidIdentifier(f.Column) {
				return apierrors.ClientErr("INVALID_IDENTIFIER", "invalid filter column: "+f.Column)
			}
			if _, dup := seenFilter[f.Column]; dup {
				return apierrors.ClientErr("DUPLICATE_FILTER", "duplicate filter column: "+f.Column)
			}
			seenFilter[f.Column] = struct{}{}
		}
		seenCol := map[string]struct{}{}
		for _, c := range r.ReadColumns {
			if !IsValidIdentifier(c.Name) {
				return apierrors.ClientErr("INVALID_IDENTIFIER", "invalid read column: "+c.Name)
			}
			if _, dup := seenCol[c.Name]; dup {
				return apierrors.ClientErr("DUPLICATE_READ_COLUMN", "duplicate read column: "+c.Name)
			}
			seenCol[c.Name] = struct{}{}
		}
	}
	return nil
}

// IsValidIdentifier applies the wire-format identifier rule (spec.md
// §6.1): a non-empty run of letters, digits and underscores, not starting
// with a digit.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case unicode.IsLetter(r) || r == '_':
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
