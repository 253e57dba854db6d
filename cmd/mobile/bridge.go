// Package main provides the sync engine bridge for mobile platforms.
// Build as shared library: libsyncengine.so (Android) / syncengine.framework (iOS)
//
// The bridge functions here hold the Go side of every FFI export. They take
// and return JSON strings so the C layer stays a thin conversion shim.
package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/internal/app"
	"github.com/kimhsiao/memonexus/syncengine/internal/config"
	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/events"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	syncengine "github.com/kimhsiao/memonexus/syncengine/internal/sync"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/remote"
)

const (
	// maxBufferedEvents bounds the events kept between PollEvents calls.
	maxBufferedEvents = 256
	callTimeout       = 30 * time.Second
)

var (
	mu       sync.Mutex
	instance *app.App
	unsub    func()

	eventsMu sync.Mutex
	pending  []eventEnvelope
	dropped  int

	lastErr string
	lastMu  sync.RWMutex

	// testRemote replaces the configured remote writer. Tests only.
	testRemote remote.Writer
)

type eventEnvelope struct {
	Type string       `json:"type"`
	Data events.Event `json:"data"`
}

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

func lastError() string {
	lastMu.RLock()
	defer lastMu.RUnlock()
	return lastErr
}

// fail records err for GetLastError and returns it.
func fail(err error) error {
	setLastError(apperrors.Reason(err) + ": " + err.Error())
	return err
}

func bridgeInit(configPath string, assumeOnline bool) error {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	a, err := app.Build(cfg, app.Options{AssumeOnline: assumeOnline, Remote: testRemote})
	if err != nil {
		return fail(err)
	}

	unsub = a.Engine.Subscribe(bufferEvent)
	if err := a.Start(context.Background()); err != nil {
		// Enqueue still works; drains are refused until the store recovers.
		logging.Error("Mobile bridge started without a readable queue", err)
		setLastError(apperrors.Reason(err))
	}

	instance = a
	return nil
}

// bufferEvent runs on the engine loop. It never blocks on the bridge lock
// held by callers waiting for the loop.
func bufferEvent(e events.Event) {
	eventsMu.Lock()
	defer eventsMu.Unlock()
	if len(pending) == maxBufferedEvents {
		pending = pending[1:]
		dropped++
	}
	pending = append(pending, eventEnvelope{Type: string(e.Type()), Data: e})
}

func bridgePollEvents() (string, error) {
	eventsMu.Lock()
	out := struct {
		Events  []eventEnvelope `json:"events"`
		Dropped int             `json:"dropped"`
	}{Events: pending, Dropped: dropped}
	if out.Events == nil {
		out.Events = []eventEnvelope{}
	}
	pending = nil
	dropped = 0
	eventsMu.Unlock()

	return marshal(out)
}

func engine() (*syncengine.Engine, error) {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		return nil, fail(apperrors.New(apperrors.ErrSyncNotInitialized, "bridge not initialized"))
	}
	return instance.Engine, nil
}

func bridgeShutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil
	}
	unsub()
	err := instance.Close()
	instance = nil
	if err != nil {
		return fail(err)
	}
	return nil
}

func bridgeEnqueue(id, payloadJSON string) (string, error) {
	e, err := engine()
	if err != nil {
		return "", err
	}

	var payload map[string]interface{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return "", fail(apperrors.Wrap(apperrors.ErrInvalid, "payload must be a JSON object", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	rec, err := e.Enqueue(ctx, id, payload)
	if err != nil {
		return "", fail(err)
	}
	return marshal(rec)
}

func bridgeRemove(id string) error {
	e, err := engine()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := e.Remove(ctx, id); err != nil {
		return fail(err)
	}
	return nil
}

func bridgePending() (string, error) {
	e, err := engine()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	recs, err := e.Pending(ctx)
	if err != nil {
		return "", fail(err)
	}
	return marshal(map[string]interface{}{"items": recs, "total": len(recs)})
}

func bridgeRequestSync() error {
	e, err := engine()
	if err != nil {
		return err
	}
	e.RequestSync(false)
	return nil
}

// bridgeSyncNow blocks until the drain finishes. Call it off the UI thread.
func bridgeSyncNow() (string, error) {
	e, err := engine()
	if err != nil {
		return "", err
	}
	out, err := e.SyncNow(context.Background())
	if err != nil {
		return "", fail(err)
	}
	return marshal(out)
}

func bridgeStatus() (string, error) {
	e, err := engine()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	status, err := e.Status(ctx)
	if err != nil {
		return "", fail(err)
	}
	return marshal(status)
}

func bridgeCachePut(id string, data []byte) error {
	e, err := engine()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if _, err := e.CacheContent(ctx, id, data); err != nil {
		return fail(err)
	}
	return nil
}

// bridgeCacheGet returns found=false without an error for a cache miss.
func bridgeCacheGet(id string) (data []byte, found bool, err error) {
	e, err := engine()
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	entry, found, err := e.CachedContent(ctx, id)
	if err != nil {
		return nil, false, fail(err)
	}
	return entry.Data, found, nil
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fail(apperrors.Wrap(apperrors.ErrInternal, "serialize response", err))
	}
	return string(data), nil
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}
