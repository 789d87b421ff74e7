package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-appsec/relay/relayd/service/replay"
	"github.com/go-appsec/relay/relayd/service/store"
)

// Relay owns the task/result exchange between submitting clients and
// processors. Per client key it holds at most one live WorkItem and one
// live ResultItem; posting a result retires the WorkItem.
type Relay struct {
	tasks      *store.Expiring[store.WorkItem]
	results    *store.Expiring[store.ResultItem]
	ips        *store.Expiring[string]
	bindings   *store.BindingStore
	recordings *store.RecordingStore
	replayer   *replay.Engine

	// wg tracks detached replay goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// NewRelay wires the relay over the shared stores and replay engine.
func NewRelay(tasks *store.Expiring[store.WorkItem], results *store.Expiring[store.ResultItem],
	ips *store.Expiring[string], bindings *store.BindingStore,
	recordings *store.RecordingStore, replayer *replay.Engine) *Relay {
	return &Relay{
		tasks:      tasks,
		results:    results,
		ips:        ips,
		bindings:   bindings,
		recordings: recordings,
		replayer:   replayer,
	}
}

// SubmitTask stores a WorkItem for key, overwriting any previous one,
// and refreshes the key's origin IP association. When a ready recording
// is bound to the key a background replay is started and the submission
// is acknowledged as instant; the caller never waits for the replay.
func (rl *Relay) SubmitTask(key string, req SubmitTaskRequest, originIP string) SubmitTaskResponse {
	item := store.WorkItem{
		Key:          key,
		CorrelationA: req.CorrelationA,
		CorrelationB: req.CorrelationB,
		OriginIP:     originIP,
		Cookies:      req.Cookies,
		UserAgent:    req.UserAgent,
		SourceURL:    req.SourceURL,
		CreatedAt:    time.Now(),
	}
	rl.tasks.Put(key, item)
	if originIP != "" {
		rl.ips.Put(key, originIP)
	}

	instant := rl.startBoundReplay(key, item)
	log.Printf("relay: task submitted for key %s (instant=%v)", key, instant)
	return SubmitTaskResponse{Key: key, Instant: instant}
}

// startBoundReplay spawns a detached replay when key has a usable bound
// recording. Returns whether one was started.
func (rl *Relay) startBoundReplay(key string, item store.WorkItem) bool {
	recordingID, ok := rl.bindings.RecordingFor(key)
	if !ok {
		return false
	}
	rec, ok := rl.recordings.Get(recordingID)
	if !ok {
		// Stale binding; the recording was deleted or swept.
		return false
	}
	if rec.Status != store.RecordingReady {
		// Already consumed by a prior replay; the key falls back to the
		// normal poll flow instead of burning the recording again.
		return false
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("relay: replay for key %s panicked: %v", key, r)
			}
		}()
		rl.runReplay(key, recordingID, item)
	}()
	return true
}

// runReplay executes a bound replay and posts its outcome as the key's
// result. Failures produce an error result rather than silence so
// pollers always learn the terminal state.
func (rl *Relay) runReplay(key, recordingID string, item store.WorkItem) {
	token, found, err := rl.replayer.Replay(context.Background(), recordingID, item.CorrelationA, item.CorrelationB, item.OriginIP)
	if err != nil {
		log.Printf("relay: replay for key %s failed: %v", key, err)
	}

	result := store.ResultItem{
		Key:       key,
		OriginIP:  item.OriginIP,
		Instant:   true,
		CreatedAt: time.Now(),
	}
	if found {
		result.Token = token
		result.Status = store.ResultCompleted
	} else {
		result.Status = store.ResultError
	}

	// Note: a Clear issued while the replay was in flight is overwritten
	// here. Replays are not cancellable; the stale result expires with
	// the store's retention window.
	rl.results.Put(key, result)
	rl.tasks.Delete(key)
	log.Printf("relay: instant result posted for key %s (status=%s)", key, result.Status)
}

// PollTask returns the pending WorkItem for key, if any.
func (rl *Relay) PollTask(key string) (store.WorkItem, bool) {
	return rl.tasks.Get(key)
}

// PostResult records a processor's outcome for key and retires the
// WorkItem under the same key.
func (rl *Relay) PostResult(key string, req PostResultRequest) store.ResultItem {
	status := store.ResultStatus(req.Status)
	if status == "" {
		status = store.ResultCompleted
	}

	originIP := req.OriginIP
	if originIP == "" {
		originIP, _ = rl.ips.Get(key)
	}
	result := store.ResultItem{
		Key:       key,
		Token:     req.Token,
		Status:    status,
		OriginIP:  originIP,
		CreatedAt: time.Now(),
	}
	rl.results.Put(key, result)
	rl.tasks.Delete(key)

	log.Printf("relay: result posted for key %s (status=%s)", key, status)
	return result
}

// PollResult returns the posted ResultItem for key, if any.
func (rl *Relay) PollResult(key string) (store.ResultItem, bool) {
	return rl.results.Get(key)
}

// Clear removes all relay state for key. Idempotent.
func (rl *Relay) Clear(key string) {
	rl.tasks.Delete(key)
	rl.results.Delete(key)
	rl.ips.Delete(key)
	log.Printf("relay: cleared state for key %s", key)
}

// Wait blocks until all in-flight background replays have completed.
func (rl *Relay) Wait() {
	rl.wg.Wait()
}
