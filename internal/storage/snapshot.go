package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"userhub/internal/domain"
)

const snapshotTimeLayout = "20060102T150405.000000000Z"

// Snapshot is the document written for every export.
type Snapshot struct {
	ExportedAt time.Time     `json:"exportedAt"`
	Count      int           `json:"count"`
	Users      []domain.User `json:"users"`
}

// ExporterOption customises an Exporter.
type ExporterOption func(*Exporter)

// WithExportClock replaces the clock used to stamp snapshots.
func WithExportClock(clk clock.Clock) ExporterOption {
	return func(e *Exporter) { e.clock = clk }
}

// WithExportLogger sets the logger upload progress is reported to.
func WithExportLogger(logger logrus.FieldLogger) ExporterOption {
	return func(e *Exporter) { e.logger = logger }
}

// Exporter writes JSON snapshots of the user collection under one prefix.
type Exporter struct {
	store  Service
	bucket string
	prefix string
	clock  clock.Clock
	logger logrus.FieldLogger
}

func NewExporter(store Service, bucket, prefix string, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock.WallClock,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export uploads users as one snapshot object and returns its location.
func (e *Exporter) Export(ctx context.Context, users []domain.User) (string, error) {
	now := e.clock.Now().UTC()
	if users == nil {
		users = []domain.User{}
	}
	body, err := json.Marshal(Snapshot{ExportedAt: now, Count: len(users), Users: users})
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := e.key(now)
	logger := e.logger.WithFields(logrus.Fields{"bucket": e.bucket, "key": key, "users": len(users)})
	location, err := e.store.Upload(ctx, bytes.NewReader(body), UploadOptions{
		Bucket:      e.bucket,
		Key:         key,
		ContentType: "application/json",
		Size:        int64(len(body)),
		ProgressCallback: func(done, total int64) {
			logger.WithFields(logrus.Fields{"done": done, "total": total}).Debug("snapshot upload progress")
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	logger.Info("snapshot exported")
	return location, nil
}

// Snapshots lists the stored snapshot keys, oldest first.
func (e *Exporter) Snapshots(ctx context.Context) ([]ObjectInfo, error) {
	objects, err := e.store.ListObjects(ctx, e.bucket, e.listPrefix())
	if err != nil {
		return nil, err
	}
	snapshots := slices.DeleteFunc(objects, func(o ObjectInfo) bool {
		base := path.Base(o.Key)
		return !strings.HasPrefix(base, "users-") || !strings.HasSuffix(base, ".json")
	})
	slices.SortFunc(snapshots, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return snapshots, nil
}

// Prune deletes all but the newest keep snapshots and reports how many
// objects were removed.
func (e *Exporter) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}
	snapshots, err := e.Snapshots(ctx)
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= keep {
		return 0, nil
	}

	stale := snapshots[:len(snapshots)-keep]
	keys := make([]string, 0, len(stale))
	for _, o := range stale {
		keys = append(keys, o.Key)
	}
	if err := e.store.DeleteObjects(ctx, e.bucket, keys); err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return len(keys), nil
}

func (e *Exporter) key(at time.Time) string {
	return e.listPrefix() + "users-" + at.Format(snapshotTimeLayout) + ".json"
}

func (e *Exporter) listPrefix() string {
	if e.prefix == "" {
		return ""
	}
	return e.prefix + "/"
}
