package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/remote"
	"github.com/kimhsiao/memonexus/syncengine/internal/uuid"
)

const (
	// VersionField is the payload field naming the version a local edit was based on.
	VersionField = "_version"

	versionMetaKey = "base-version"
	versionHeader  = "X-Amz-Meta-Base-Version"
)

// Writer applies mutations as JSON objects. It implements remote.Writer.
type Writer struct {
	store      ObjectStore
	prefix     string
	newVersion func() string
}

// NewWriter creates a Writer storing objects under prefix.
func NewWriter(store ObjectStore, prefix string) *Writer {
	return &Writer{
		store:      store,
		prefix:     prefix,
		newVersion: uuid.New,
	}
}

// Key returns the object key for a mutation id.
func (w *Writer) Key(id string) string {
	return path.Join(w.prefix, id+".json")
}

// Apply writes m unless the remote object moved past the version m was
// based on. A payload without a version is a blind write. Overwrite skips
// the version check.
func (w *Writer) Apply(ctx context.Context, m remote.Mutation) remote.Result {
	key := w.Key(m.ID)
	base := baseVersion(m.Payload)

	if !m.Overwrite && base != "" {
		current, exists, err := w.store.Head(ctx, key)
		if err != nil {
			return classify(err)
		}
		if exists && current != base {
			return w.conflict(ctx, key, m.ID)
		}
	}

	version := w.newVersion()
	body := models.ClonePayload(m.Payload)
	if body == nil {
		body = map[string]interface{}{}
	}
	body[VersionField] = version

	data, err := json.Marshal(body)
	if err != nil {
		// Not retryable: the same payload will never encode.
		return remote.Fatal(fmt.Errorf("encode payload: %w", err))
	}

	if err := w.store.Write(ctx, key, data, version); err != nil {
		return classify(err)
	}

	logging.Debug("Wrote mutation object",
		map[string]interface{}{"id": m.ID, "key": key, "version": version})
	return remote.Succeeded()
}

func (w *Writer) conflict(ctx context.Context, key, id string) remote.Result {
	data, err := w.store.Read(ctx, key)
	if err != nil {
		return classify(err)
	}

	var current map[string]interface{}
	if err := json.Unmarshal(data, &current); err != nil {
		return remote.Fatal(fmt.Errorf("decode remote object %s: %w", key, err))
	}
	if current == nil {
		current = map[string]interface{}{}
	}

	logging.Info("Remote object changed since local edit",
		map[string]interface{}{"id": id, "key": key})
	return remote.Conflicted(current)
}

func baseVersion(payload map[string]interface{}) string {
	v, ok := payload[VersionField]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// classify maps an object store error to a remote result kind. Network
// errors, throttling and 5xx are transient; auth and bucket errors are fatal.
func classify(err error) remote.Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return remote.Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return remote.Transient(err)
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return remote.Transient(err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket", "InvalidBucketName":
		return remote.Fatal(err)
	}

	switch {
	case resp.StatusCode == 0:
		return remote.Transient(err)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return remote.Transient(err)
	default:
		return remote.Fatal(err)
	}
}
