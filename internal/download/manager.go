package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/narrato/narrato/tts"
)

// Connectivity reports the current network class. The WiFi-only policy
// gate consults it before admitting a download.
type Connectivity interface {
	IsWiFi() bool
}

// AlwaysWiFi is the default connectivity for platforms without a
// metered-network distinction.
type AlwaysWiFi struct{}

// IsWiFi always returns true.
func (AlwaysWiFi) IsWiFi() bool { return true }

// Config configures a Manager.
type Config struct {
	Dir         string      // Install directory for core artifacts
	Concurrency int         // Parallel downloads (admission limit)
	QueueSize   int         // Pending-download queue capacity
	WiFiOnly    func() bool // External settings flag, read per request
}

// Manager orchestrates concurrent core downloads, queuing, retry,
// cancellation, deletion, and storage accounting across engines. It is
// the only mutator of core states; the UI layer just issues commands
// and reads snapshots/events.
type Manager struct {
	mu      sync.Mutex
	catalog *Catalog
	cores   map[string]*CoreState
	specs   map[string]CoreSpec
	cancels map[string]context.CancelFunc
	subs    []chan Event

	jobs     chan job
	fetcher  Fetcher
	conn     Connectivity
	dir      string
	wifiOnly func() bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type job struct {
	id     string
	coreID string
}

// NewManager creates a manager for the given catalog and starts its
// download workers. Already-installed cores are detected from disk and
// marked ready.
func NewManager(cfg Config, catalog *Catalog, fetcher Fetcher, conn Connectivity) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < cfg.Concurrency {
		cfg.QueueSize = cfg.Concurrency * 8
	}
	if cfg.WiFiOnly == nil {
		cfg.WiFiOnly = func() bool { return false }
	}
	if conn == nil {
		conn = AlwaysWiFi{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		catalog:  catalog,
		cores:    make(map[string]*CoreState),
		specs:    make(map[string]CoreSpec),
		cancels:  make(map[string]context.CancelFunc),
		jobs:     make(chan job, cfg.QueueSize),
		fetcher:  fetcher,
		conn:     conn,
		dir:      cfg.Dir,
		wifiOnly: cfg.WiFiOnly,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, eng := range catalog.Engines {
		for _, spec := range eng.Cores {
			m.specs[spec.ID] = spec
			state := &CoreState{
				CoreID:    spec.ID,
				EngineID:  eng.ID,
				Status:    StatusNotDownloaded,
				SizeBytes: spec.SizeBytes,
			}
			if info, err := os.Stat(m.installPath(spec.ID)); err == nil {
				state.Status = StatusReady
				state.SizeBytes = info.Size()
				state.Progress = 1
			}
			m.cores[spec.ID] = state
		}
	}

	for i := 0; i < cfg.Concurrency; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	return m, nil
}

// DownloadCore enqueues a download for one core. Fails fast with
// ErrDownloadInProgress when an attempt is already queued or running,
// and with ErrWiFiRequired when the policy gate blocks it. Downloading
// an already-ready core is a no-op. A failed core is re-queued (retry).
func (m *Manager) DownloadCore(coreID string) error {
	m.mu.Lock()
	state, ok := m.cores[coreID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", tts.ErrUnknownCore, coreID)
	}
	if state.Status.InFlight() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", tts.ErrDownloadInProgress, coreID)
	}
	if state.Status == StatusReady {
		m.mu.Unlock()
		return nil
	}
	if m.wifiOnly() && !m.conn.IsWiFi() {
		m.mu.Unlock()
		return tts.ErrWiFiRequired
	}
	state.Status = StatusQueued
	state.Progress = 0
	state.Err = nil
	ev := m.eventLocked(state)
	m.mu.Unlock()
	m.publish(ev)

	j := job{id: uuid.NewString(), coreID: coreID}
	select {
	case m.jobs <- j:
		log.Debug("download: queued", "core", coreID, "job", j.id)
		return nil
	default:
		// Queue saturated; revert so the caller can retry later.
		m.mu.Lock()
		if state.Status == StatusQueued {
			state.Status = StatusNotDownloaded
		}
		ev := m.eventLocked(state)
		m.mu.Unlock()
		m.publish(ev)
		return fmt.Errorf("%w: download queue full", tts.ErrDownloadFailed)
	}
}

// DownloadVoice downloads every not-ready core the voice requires.
// Cores already in flight are left alone.
func (m *Manager) DownloadVoice(voiceID string) error {
	spec, _, ok := m.catalog.VoiceByID(voiceID)
	if !ok {
		return fmt.Errorf("%w: %s", tts.ErrUnknownVoice, voiceID)
	}
	for _, coreID := range spec.RequiredCores {
		err := m.DownloadCore(coreID)
		if err != nil && !errors.Is(err, tts.ErrDownloadInProgress) {
			return err
		}
	}
	return nil
}

// DownloadAllForEngine downloads every core of an engine.
func (m *Manager) DownloadAllForEngine(engineID string) error {
	for _, eng := range m.catalog.Engines {
		if eng.ID != engineID {
			continue
		}
		for _, core := range eng.Cores {
			err := m.DownloadCore(core.ID)
			if err != nil && !errors.Is(err, tts.ErrDownloadInProgress) {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown engine %q", engineID)
}

// CancelDownload stops a queued or running download and reverts the
// core to not-downloaded. Partial bytes are discarded by the worker.
// Canceling a core that isn't in flight is a no-op.
func (m *Manager) CancelDownload(coreID string) error {
	m.mu.Lock()
	state, ok := m.cores[coreID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", tts.ErrUnknownCore, coreID)
	}
	switch state.Status {
	case StatusQueued:
		// The worker skips jobs whose core is no longer queued.
		state.Status = StatusNotDownloaded
		state.Progress = 0
		ev := m.eventLocked(state)
		m.mu.Unlock()
		m.publish(ev)
		return nil
	case StatusDownloading, StatusExtracting:
		cancel := m.cancels[coreID]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		m.mu.Unlock()
		return nil
	}
}

// DeleteCore removes a core's installed artifact. A mid-download core
// is canceled first.
func (m *Manager) DeleteCore(coreID string) error {
	m.mu.Lock()
	state, ok := m.cores[coreID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", tts.ErrUnknownCore, coreID)
	}
	inFlight := state.Status.InFlight()
	m.mu.Unlock()

	if inFlight {
		if err := m.CancelDownload(coreID); err != nil {
			return err
		}
	}

	if err := os.Remove(m.installPath(coreID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove core %s: %w", coreID, err)
	}
	m.mu.Lock()
	state.Status = StatusNotDownloaded
	state.Progress = 0
	state.Err = nil
	state.SizeBytes = m.specs[coreID].SizeBytes
	ev := m.eventLocked(state)
	m.mu.Unlock()
	m.publish(ev)
	log.Info("download: core deleted", "core", coreID)
	return nil
}

// DeleteAll removes every installed core.
func (m *Manager) DeleteAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cores))
	for id := range m.cores {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.DeleteCore(id); err != nil {
			return err
		}
	}
	return nil
}

// CoreState returns a copy of one core's state.
func (m *Manager) CoreState(coreID string) (CoreState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.cores[coreID]
	if !ok {
		return CoreState{}, false
	}
	return *state, true
}

// CoreStates returns a snapshot of all core states.
func (m *Manager) CoreStates() map[string]CoreState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CoreState, len(m.cores))
	for id, state := range m.cores {
		out[id] = *state
	}
	return out
}

// VoiceReady reports whether every core the voice requires is ready.
func (m *Manager) VoiceReady(voiceID string) bool {
	spec, _, ok := m.catalog.VoiceByID(voiceID)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, coreID := range spec.RequiredCores {
		state, ok := m.cores[coreID]
		if !ok || state.Status != StatusReady {
			return false
		}
	}
	return true
}

// VoiceStates returns the derived state of every cataloged voice.
func (m *Manager) VoiceStates() []VoiceState {
	var out []VoiceState
	for _, eng := range m.catalog.Engines {
		for _, voice := range eng.Voices {
			out = append(out, VoiceState{
				VoiceID:         voice.ID,
				DisplayName:     voice.Name,
				Language:        voice.Language,
				EngineID:        eng.ID,
				RequiredCoreIDs: append([]string(nil), voice.RequiredCores...),
				Ready:           m.VoiceReady(voice.ID),
			})
		}
	}
	return out
}

// TotalInstalledSize returns the accounted size of all ready cores.
func (m *Manager) TotalInstalledSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, state := range m.cores {
		if state.Status == StatusReady {
			total += state.SizeBytes
		}
	}
	return total
}

// VerifyInstalledSize reconciles accounting against the disk. Cores
// whose files vanished are demoted to not-downloaded and sizes are
// corrected from disk truth. Returns the on-disk total, and
// ErrStorageMismatch when the accounting had diverged.
func (m *Manager) VerifyInstalledSize() (int64, error) {
	accounted := m.TotalInstalledSize()

	m.mu.Lock()
	var onDisk int64
	var events []Event
	for id, state := range m.cores {
		if state.Status != StatusReady {
			continue
		}
		info, err := os.Stat(m.installPath(id))
		if err != nil {
			state.Status = StatusNotDownloaded
			state.Progress = 0
			state.SizeBytes = m.specs[id].SizeBytes
			events = append(events, m.eventLocked(state))
			continue
		}
		if info.Size() != state.SizeBytes {
			state.SizeBytes = info.Size()
		}
		onDisk += info.Size()
	}
	m.mu.Unlock()
	for _, ev := range events {
		m.publish(ev)
	}

	if onDisk != accounted {
		log.Warn("download: storage accounting mismatch", "accounted", accounted, "disk", onDisk)
		return onDisk, fmt.Errorf("%w: accounted %d bytes, disk has %d", tts.ErrStorageMismatch, accounted, onDisk)
	}
	return onDisk, nil
}

// Subscribe returns a channel receiving core state change events.
// Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Close cancels in-flight downloads and stops the workers.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	log.Debug("download: worker started", "worker", id)
	for j := range m.jobs {
		if m.ctx.Err() != nil {
			return
		}
		m.process(j)
	}
}

func (m *Manager) process(j job) {
	m.mu.Lock()
	state, ok := m.cores[j.coreID]
	if !ok || state.Status != StatusQueued {
		// Canceled (or deleted) while waiting in the queue.
		m.mu.Unlock()
		return
	}
	spec := m.specs[j.coreID]
	jobCtx, cancelJob := context.WithCancel(m.ctx)
	m.cancels[j.coreID] = cancelJob
	state.Status = StatusDownloading
	ev := m.eventLocked(state)
	m.mu.Unlock()
	m.publish(ev)
	log.Info("download: starting", "core", j.coreID, "job", j.id, "url", spec.URL)

	final := m.installPath(j.coreID)
	part := final + ".part"

	err := m.fetcher.Fetch(jobCtx, spec.URL, part, func(done, total int64) {
		m.setProgress(j.coreID, done, total, spec.SizeBytes)
	})
	if err == nil {
		m.setStatus(j.coreID, StatusExtracting)
		err = m.install(jobCtx, part, final)
	}

	m.mu.Lock()
	delete(m.cancels, j.coreID)
	cancelJob()
	switch {
	case err == nil:
		if info, statErr := os.Stat(final); statErr == nil {
			state.SizeBytes = info.Size()
		}
		state.Status = StatusReady
		state.Progress = 1
		state.Err = nil
	case errors.Is(err, context.Canceled):
		_ = os.Remove(part)
		state.Status = StatusNotDownloaded
		state.Progress = 0
		state.Err = nil
	default:
		_ = os.Remove(part)
		state.Status = StatusFailed
		state.Progress = 0
		state.Err = fmt.Errorf("%w: %v", tts.ErrDownloadFailed, err)
	}
	size := state.SizeBytes
	ev = m.eventLocked(state)
	m.mu.Unlock()
	m.publish(ev)

	switch {
	case err == nil:
		log.Info("download: core ready", "core", j.coreID, "size", size)
	case errors.Is(err, context.Canceled):
		log.Info("download: canceled", "core", j.coreID)
	default:
		log.Error("download: failed", "core", j.coreID, "error", err)
	}
}

// install moves the completed transfer into place. Kept as a distinct
// "extracting" phase so the rename and any future unpacking never
// expose a ready-flagged partial artifact.
func (m *Manager) install(ctx context.Context, part, final string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(part, final)
}

func (m *Manager) setProgress(coreID string, done, total, fallbackTotal int64) {
	if total <= 0 {
		total = fallbackTotal
	}
	if total <= 0 {
		return
	}
	m.mu.Lock()
	state, ok := m.cores[coreID]
	if !ok || state.Status != StatusDownloading {
		m.mu.Unlock()
		return
	}
	state.Progress = float64(done) / float64(total)
	if state.Progress > 1 {
		state.Progress = 1
	}
	ev := m.eventLocked(state)
	m.mu.Unlock()
	m.publish(ev)
}

func (m *Manager) setStatus(coreID string, status CoreStatus) {
	m.mu.Lock()
	state, ok := m.cores[coreID]
	if !ok {
		m.mu.Unlock()
		return
	}
	state.Status = status
	ev := m.eventLocked(state)
	m.mu.Unlock()
	m.publish(ev)
}

// eventLocked must be called with the lock held.
func (m *Manager) eventLocked(state *CoreState) Event {
	return Event{
		CoreID:   state.CoreID,
		EngineID: state.EngineID,
		Status:   state.Status,
		Progress: state.Progress,
	}
}

func (m *Manager) publish(ev Event) {
	m.mu.Lock()
	subs := m.subs
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) installPath(coreID string) string {
	return filepath.Join(m.dir, coreID+".core")
}
