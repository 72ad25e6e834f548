package qflash

import (
	"sync"

	"github.com/qedl/qflash/internal/interfaces"
	"github.com/qedl/qflash/internal/logging"
)

// Observer reports flashing progress and protocol log lines to whatever
// is driving a FlashOrchestrator or a one-shot command. It is the public
// alias of interfaces.Observer so callers outside this module don't need
// to import the internal package to implement one.
type Observer = interfaces.Observer

// LogLevel mirrors interfaces.LogLevel.
type LogLevel = interfaces.LogLevel

const (
	LogDebug = interfaces.LogDebug
	LogInfo  = interfaces.LogInfo
	LogWarn  = interfaces.LogWarn
	LogError = interfaces.LogError
)

// NoOpObserver discards every report. It is the default when no Observer
// is supplied, so callers never need a nil check before reporting.
type NoOpObserver struct{}

func (NoOpObserver) ObserveProgress(int, string)                    {}
func (NoOpObserver) ObserveLog(interfaces.LogLevel, string, string) {}
func (NoOpObserver) ObservePartitionTable(int, []byte)              {}

// LogObserver forwards every report to the package logger, at Info for
// progress/partition-table events and at the reported level for log
// lines. Safe for concurrent use: logging.Logger already serializes
// writes, and LogObserver itself holds no mutable state.
type LogObserver struct {
	log *logging.Logger
}

// NewLogObserver returns an Observer that writes through log. A nil log
// falls back to logging.Default().
func NewLogObserver(log *logging.Logger) *LogObserver {
	if log == nil {
		log = logging.Default()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) ObserveProgress(percent int, step string) {
	o.log.Infof("progress %d%%: %s", percent, step)
}

func (o *LogObserver) ObserveLog(level interfaces.LogLevel, category string, msg string) {
	switch level {
	case interfaces.LogDebug:
		o.log.Debugf("[%s] %s", category, msg)
	case interfaces.LogWarn:
		o.log.Warnf("[%s] %s", category, msg)
	case interfaces.LogError:
		o.log.Errorf("[%s] %s", category, msg)
	default:
		o.log.Infof("[%s] %s", category, msg)
	}
}

func (o *LogObserver) ObservePartitionTable(lun int, doc []byte) {
	o.log.Infof("partition table lun=%d: %s", lun, doc)
}

// FanoutObserver reports to every Observer in the slice, in order. Used
// when a run needs both a UI-facing observer and a log-backed one.
type FanoutObserver struct {
	mu        sync.Mutex
	observers []Observer
}

// NewFanoutObserver returns an Observer that forwards to each of observers.
func NewFanoutObserver(observers ...Observer) *FanoutObserver {
	return &FanoutObserver{observers: observers}
}

func (o *FanoutObserver) ObserveProgress(percent int, step string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.observers {
		obs.ObserveProgress(percent, step)
	}
}

func (o *FanoutObserver) ObserveLog(level interfaces.LogLevel, category string, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.observers {
		obs.ObserveLog(level, category, msg)
	}
}

func (o *FanoutObserver) ObservePartitionTable(lun int, doc []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, obs := range o.observers {
		obs.ObservePartitionTable(lun, doc)
	}
}

var (
	_ Observer = NoOpObserver{}
	_ Observer = (*LogObserver)(nil)
	_ Observer = (*FanoutObserver)(nil)
)
