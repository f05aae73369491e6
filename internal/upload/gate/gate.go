package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
	"github.com/aiwaverider/mediasync/internal/upload/metrics"
)

// Decision is the outcome of an upload gate check.
type Decision int

const (
	UploadRequired Decision = iota
	SkipAlreadyUploaded
)

func (d Decision) String() string {
	switch d {
	case UploadRequired:
		return "upload_required"
	case SkipAlreadyUploaded:
		return "skip_already_uploaded"
	default:
		return "unknown"
	}
}

// Config holds the gate knobs.
type Config struct {
	CacheDurationHours float64 `yaml:"cache_duration_hours"`
	HashConcurrency    int64   `yaml:"hash_concurrency"`
}

// CacheTTL returns the listing cache TTL, defaulting to one hour.
func (c Config) CacheTTL() time.Duration {
	if c.CacheDurationHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.CacheDurationHours * float64(time.Hour))
}

// Gate decides whether a candidate file actually needs uploading. Checks run
// cheapest and most authoritative first: the local ledger, then the cached
// remote listing, then a remote content-hash search. The ledger is the
// primary source of truth for files uploaded by this process; slightly stale
// listings are acceptable.
type Gate struct {
	ledger storage.LedgerRepository
	hasher *Hasher
	cache  *listingCache
	log    *slog.Logger
}

// New creates a gate.
func New(cfg Config, ledger storage.LedgerRepository, hasher *Hasher, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		ledger: ledger,
		hasher: hasher,
		cache:  newListingCache(cfg.CacheTTL()),
		log:    log,
	}
}

// Decide reports whether the candidate must be uploaded to the backend, along
// with the file's content hash for the caller's ledger bookkeeping. A failure
// while consulting remote state propagates rather than defaulting to
// upload-required, so a transient listing error can't cause a duplicate
// upload.
func (g *Gate) Decide(ctx context.Context, cand domain.FileUploadCandidate, be backend.Backend, folder string) (Decision, string, error) {
	hash, err := g.hasher.Sum(ctx, cand.LocalPath)
	if err != nil {
		return UploadRequired, "", err
	}

	// 1. Ledger: a COMPLETED entry with a matching hash is authoritative.
	// A hash mismatch means the file changed on disk; the entry is stale and
	// re-upload is forced regardless of what the remote listing says.
	entry, err := g.ledger.Get(ctx, cand.Key(be.Name()))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return UploadRequired, hash, err
	}
	if entry != nil && entry.Status == domain.UploadCompleted {
		if entry.ContentHash == hash {
			g.record(be.Name(), SkipAlreadyUploaded)
			return SkipAlreadyUploaded, hash, nil
		}
		g.log.Info("stale ledger entry, forcing re-upload",
			"backend", be.Name(), "logical_id", cand.LogicalID, "file", cand.Filename())
		g.record(be.Name(), UploadRequired)
		return UploadRequired, hash, nil
	}

	// 2. Remote listing: name collision wins over re-uploading.
	listing, err := g.listing(ctx, be, folder)
	if err != nil {
		return UploadRequired, hash, err
	}
	if _, ok := listing.lookup(cand.Filename()); ok {
		g.log.Debug("file already present remotely",
			"backend", be.Name(), "file", cand.Filename())
		g.record(be.Name(), SkipAlreadyUploaded)
		return SkipAlreadyUploaded, hash, nil
	}

	// 3. Remote content-hash search, where the backend supports it. A match
	// backfills the ledger so step 1 short-circuits next time.
	if cs, ok := be.(backend.ContentSearcher); ok {
		remote, err := cs.SearchByHash(ctx, folder, hash)
		if err != nil {
			return UploadRequired, hash, err
		}
		if remote != nil {
			if err := g.ledger.BackfillRemote(ctx, cand.Key(be.Name()),
				cand.LocalPath, hash, remote.ID, remote.URL); err != nil {
				return UploadRequired, hash, err
			}
			g.log.Info("duplicate found by content hash",
				"backend", be.Name(), "file", cand.Filename(), "remote_id", remote.ID)
			g.record(be.Name(), SkipAlreadyUploaded)
			return SkipAlreadyUploaded, hash, nil
		}
	}

	g.record(be.Name(), UploadRequired)
	return UploadRequired, hash, nil
}

// RecordUploaded inserts a freshly uploaded file into the cached listing so
// later decisions in the same run see it without re-listing.
func (g *Gate) RecordUploaded(backendName, folder, filename, remoteID string) {
	if l, ok := g.cache.get(backendName, folder); ok {
		l.insert(filename, remoteID)
	}
}

func (g *Gate) listing(ctx context.Context, be backend.Backend, folder string) (*folderListing, error) {
	if l, ok := g.cache.get(be.Name(), folder); ok {
		return l, nil
	}

	files, err := be.List(ctx, folder)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(files))
	for _, f := range files {
		byName[f.Name] = f.ID
	}
	g.log.Debug("cached remote listing",
		"backend", be.Name(), "folder", folder, "files", len(byName))
	return g.cache.put(be.Name(), folder, byName), nil
}

func (g *Gate) record(backendName string, d Decision) {
	metrics.GateDecisions.WithLabelValues(backendName, d.String()).Inc()
}
