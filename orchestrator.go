// Package qflash is the public API: a flashing orchestrator that drives
// the Sahara/Firehose engines in internal/ against a validated EDL
// package, plus the structured error and progress-reporting types the
// host command surface and cmd/qflash CLI share.
package qflash

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/qedl/qflash/internal/constants"
	"github.com/qedl/qflash/internal/firehose"
	"github.com/qedl/qflash/internal/interfaces"
	"github.com/qedl/qflash/internal/logging"
	"github.com/qedl/qflash/internal/pkgvalidate"
	"github.com/qedl/qflash/internal/serialenum"
	"github.com/qedl/qflash/internal/superimage"
	"github.com/qedl/qflash/internal/transport"
)

// FlashParams configures one flashing run.
type FlashParams struct {
	// Fs is the filesystem the package directory is read through.
	// Defaults to the real OS filesystem (afero.NewOsFs()) when nil.
	Fs afero.Fs

	// PackageRoot is the EDL package directory (contains META/ and
	// IMAGES/).
	PackageRoot string

	// IsProtectLUN5 narrows package validation to rawprogram/patch
	// indices 0..4 instead of 0..5.
	IsProtectLUN5 bool

	// Port is the serial device path to open. Empty auto-enumerates the
	// first USB-class port.
	Port string

	// TransportConfig overrides the transport opened for this run; Port
	// is ignored when set.
	TransportConfig *transport.Config

	// Transport, when set, is used directly instead of opening one from
	// Port/TransportConfig. Tests inject a fakedevice.Transport or
	// MockTransport here to drive a run without real hardware.
	Transport interfaces.Transport

	// FirehoseConfig is the session configuration requested via
	// <configure>. Zero value uses firehose.DefaultConfig().
	FirehoseConfig firehose.Config

	// PartitionSettleDelay is the pause between programmed partitions.
	// Zero uses constants.DefaultPartitionSettleDelay.
	PartitionSettleDelay time.Duration

	// Observer receives progress and log reports. Defaults to
	// NoOpObserver.
	Observer Observer

	// Logger receives diagnostic messages. Defaults to logging.Default().
	Logger interfaces.Logger
}

// OrchestratorState is the single process-wide "is a flash running"
// flag: at most one flashing run is active at a time, and its
// running transitions are monotone within a run (false -> true ->
// false).
type OrchestratorState struct {
	running atomic.Bool
}

// IsRunning reports whether a flash is currently in progress.
func (s *OrchestratorState) IsRunning() bool {
	return s.running.Load()
}

// FlashOrchestrator drives one flashing run at a time. The zero value is
// ready to use.
type FlashOrchestrator struct {
	state  OrchestratorState
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFlashOrchestrator returns a ready-to-use orchestrator.
func NewFlashOrchestrator() *FlashOrchestrator {
	return &FlashOrchestrator{}
}

// State reports whether a run is currently active.
func (o *FlashOrchestrator) State() *OrchestratorState {
	return &o.state
}

// Start runs the flash on a new goroutine and returns immediately; package
// validation, plan building and every step failure happen on that
// goroutine and are reported through params.Observer, never as Start's
// return value. Re-entry while a run is already
// active is a silent no-op (matching the host command surface's
// re-invoke semantics for start_flashing): it returns nil, not an
// error, so callers that poll State().IsRunning() don't need to treat
// it specially.
func (o *FlashOrchestrator) Start(ctx context.Context, params FlashParams) error {
	if !o.state.running.CompareAndSwap(false, true) {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	go func() {
		defer o.state.running.Store(false)
		runFlash(runCtx, normalizeParams(params))
	}()

	return nil
}

// Stop cancels the active run, if any. The run observes cancellation at
// its next iteration boundary; Stop does not block for it to finish.
func (o *FlashOrchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func normalizeParams(p FlashParams) FlashParams {
	if p.Fs == nil {
		p.Fs = afero.NewOsFs()
	}
	if p.PartitionSettleDelay <= 0 {
		p.PartitionSettleDelay = constants.DefaultPartitionSettleDelay
	}
	if p.Observer == nil {
		p.Observer = NoOpObserver{}
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.FirehoseConfig == (firehose.Config{}) {
		p.FirehoseConfig = firehose.DefaultConfig()
	}
	if p.TransportConfig != nil && p.TransportConfig.Kind == transport.KindUSB {
		p.FirehoseConfig.Backend = firehose.BackendUSB
	}
	return p
}

// runFlash executes the sequenced steps with fixed progress anchors:
// validate (5), build super image (10), open transport (20), program
// entries (20+i*60/N), patch files (80+i*15/N), set active slot (95),
// done (100). Cancellation is observed before each entry/file and at
// every step boundary; an in-flight chunked program/read completes
// naturally rather than being torn down mid-transfer.
func runFlash(ctx context.Context, p FlashParams) {
	obs := p.Observer
	log := p.Logger

	if canceled(ctx, obs) {
		return
	}

	obs.ObserveProgress(0, "validate package")
	pkg, err := pkgvalidate.Validate(p.Fs, p.PackageRoot, p.IsProtectLUN5)
	if err != nil {
		reportFailure(obs, log, "validate", err)
		return
	}
	obs.ObserveProgress(constants.ProgressValidate, "package validated")

	if canceled(ctx, obs) {
		return
	}

	if pkg.IsMissSuperImage {
		def, err := superimage.ParseDefinition(p.Fs, pkg.SuperDefPath)
		if err != nil {
			reportFailure(obs, log, "build_super_image", err)
			return
		}
		builder := superimage.NewBuilder()
		metaDir := filepath.Dir(pkg.SuperDefPath)
		if err := builder.Build(metaDir, def); err != nil {
			reportFailure(obs, log, "build_super_image", err)
			return
		}
	}
	obs.ObserveProgress(constants.ProgressSuperImage, "super image ready")

	if canceled(ctx, obs) {
		return
	}

	t, err := openTransport(p)
	if err != nil {
		reportFailure(obs, log, "open_transport", err)
		return
	}
	defer t.Close()

	engine := firehose.NewEngine(t, obs, log)
	if _, err := engine.Configure(p.FirehoseConfig); err != nil {
		reportFailure(obs, log, "configure", err)
		return
	}
	obs.ObserveProgress(constants.ProgressPortOpen, "transport ready")

	n := len(pkg.RawPrograms)
	for i, entry := range pkg.RawPrograms {
		if canceled(ctx, obs) {
			return
		}

		if err := programEntry(p.Fs, engine, entry); err != nil {
			reportFailure(obs, log, "program:"+entry.Label, err)
			return
		}

		pct := constants.ProgressProgramBase + (i+1)*constants.ProgramShare/maxInt(n, 1)
		obs.ObserveProgress(pct, fmt.Sprintf("programmed %s", labelOrFile(entry)))

		if i < n-1 {
			if sleepOrCanceled(ctx, p.PartitionSettleDelay) {
				obs.ObserveLog(interfaces.LogInfo, "orchestrator", "Operation canceled by user")
				return
			}
		}
	}

	patchFiles := pkg.PatchFiles
	m := len(patchFiles)
	for i, path := range patchFiles {
		if canceled(ctx, obs) {
			return
		}

		tags, err := parsePatchFile(p.Fs, path)
		if err != nil {
			reportFailure(obs, log, "patch:"+path, err)
			return
		}
		for _, tag := range tags {
			if err := engine.Patch(tag); err != nil {
				reportFailure(obs, log, "patch:"+path, err)
				return
			}
		}

		pct := constants.ProgressPatchBase + (i+1)*constants.PatchShare/maxInt(m, 1)
		obs.ObserveProgress(pct, fmt.Sprintf("patched %s", filepath.Base(path)))
	}

	if canceled(ctx, obs) {
		return
	}

	if err := engine.SetBootableStorageDrive(1); err != nil {
		reportFailure(obs, log, "set_active_slot", err)
		return
	}
	obs.ObserveProgress(constants.ProgressSetActiveSlot, "active slot set to A")

	obs.ObserveProgress(constants.ProgressDone, "done")
}

func openTransport(p FlashParams) (interfaces.Transport, error) {
	if p.Transport != nil {
		return p.Transport, nil
	}

	if p.TransportConfig != nil {
		cfg := *p.TransportConfig
		if cfg.Kind == transport.KindUSB && p.FirehoseConfig.SkipUSBZLP {
			cfg.SkipZLP = true
		}
		return transport.New(cfg)
	}

	port := p.Port
	if port == "" {
		sel, err := serialenum.Enumerate()
		if err != nil {
			return nil, WrapError("orchestrator.open_transport", err)
		}
		if sel.Path == "" {
			return nil, NewError("orchestrator.open_transport", ErrCodePortNotFound, "no USB-class serial port found")
		}
		port = sel.Path
	}

	cfg := transport.DefaultConfig(port)
	return transport.New(cfg)
}

// programAttrs extracts the attributes pkgvalidate baked into a
// RawProgramEntry's single-entry <data> document, so the orchestrator
// doesn't need to re-walk the original rawprogram*.xml file.
type programAttrs struct {
	XMLName xml.Name `xml:"data"`
	Program struct {
		PhysicalPartitionNumber int    `xml:"physical_partition_number,attr"`
		StartSector             string `xml:"start_sector,attr"`
		NumPartitionSectors     int64  `xml:"num_partition_sectors,attr"`
		SectorSizeInBytes       int    `xml:"SECTOR_SIZE_IN_BYTES,attr"`
		FileSectorOffset        int64  `xml:"file_sector_offset,attr"`
		Filename                string `xml:"filename,attr"`
		Label                   string `xml:"label,attr"`
	} `xml:"program"`
}

func programEntry(fs afero.Fs, engine *firehose.Engine, entry pkgvalidate.RawProgramEntry) error {
	var doc programAttrs
	if err := xml.Unmarshal(entry.Document, &doc); err != nil {
		return fmt.Errorf("orchestrator: parse program entry %s: %w", entry.Label, err)
	}

	filename := entry.Filename
	if filename == "" {
		filename = "super.img"
	}
	srcPath := filepath.Join(entry.SourceDir, filename)

	f, err := fs.Open(srcPath)
	if err != nil {
		return fmt.Errorf("orchestrator: open %s: %w", srcPath, err)
	}
	defer f.Close()

	var src io.Reader = f
	if off := doc.Program.FileSectorOffset * int64(doc.Program.SectorSizeInBytes); off > 0 {
		if seeker, ok := f.(io.Seeker); ok {
			if _, err := seeker.Seek(off, io.SeekStart); err != nil {
				return fmt.Errorf("orchestrator: seek %s: %w", srcPath, err)
			}
		}
	}

	tag := firehose.ProgramTag{
		PhysicalPartitionNumber: doc.Program.PhysicalPartitionNumber,
		StartSector:             doc.Program.StartSector,
		NumPartitionSectors:     doc.Program.NumPartitionSectors,
		SectorSizeInBytes:       doc.Program.SectorSizeInBytes,
		FileSectorOffset:        doc.Program.FileSectorOffset,
		Filename:                filepath.Base(filename),
		Label:                   doc.Program.Label,
	}
	return engine.Program(tag, src, nil)
}

// patchDoc decodes one patch*.xml file's <patch> children.
type patchDoc struct {
	XMLName xml.Name `xml:"data"`
	Patches []struct {
		PhysicalPartitionNumber int    `xml:"physical_partition_number,attr"`
		Filename                string `xml:"filename,attr"`
		SectorSizeInBytes       int    `xml:"SECTOR_SIZE_IN_BYTES,attr"`
		ByteOffset              int64  `xml:"byte_offset,attr"`
		SizeInBytes             int    `xml:"size_in_bytes,attr"`
		StartSector             string `xml:"start_sector,attr"`
		What                    string `xml:"what,attr"`
		Value                   string `xml:"value,attr"`
	} `xml:"patch"`
}

func parsePatchFile(fs afero.Fs, path string) ([]firehose.PatchTag, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read %s: %w", path, err)
	}

	var doc patchDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("orchestrator: parse %s: %w", path, err)
	}

	tags := make([]firehose.PatchTag, 0, len(doc.Patches))
	for _, pe := range doc.Patches {
		tags = append(tags, firehose.PatchTag{
			PhysicalPartitionNumber: pe.PhysicalPartitionNumber,
			Filename:                pe.Filename,
			SectorSizeInBytes:       pe.SectorSizeInBytes,
			ByteOffset:              pe.ByteOffset,
			SizeInBytes:             pe.SizeInBytes,
			StartSector:             pe.StartSector,
			What:                    pe.What,
			Value:                   pe.Value,
		})
	}
	return tags, nil
}

func labelOrFile(e pkgvalidate.RawProgramEntry) string {
	if e.Label != "" {
		return e.Label
	}
	return e.Filename
}

func canceled(ctx context.Context, obs Observer) bool {
	select {
	case <-ctx.Done():
		obs.ObserveLog(interfaces.LogInfo, "orchestrator", "Operation canceled by user")
		return true
	default:
		return false
	}
}

func sleepOrCanceled(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

func reportFailure(obs Observer, log interfaces.Logger, op string, err error) {
	wrapped := WrapError("orchestrator."+op, err)
	obs.ObserveLog(interfaces.LogError, "orchestrator", wrapped.Error())
	if log == nil {
		return
	}
	if scoped, ok := log.(*logging.Logger); ok {
		scoped.WithOp(op).WithError(err).Error("flash step failed")
		return
	}
	log.Printf("flash failed: %s", wrapped.Error())
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
