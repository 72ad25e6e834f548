package main

import (
	"fmt"

	"github.com/qedl/qflash/internal/firehose"
	"github.com/qedl/qflash/internal/interfaces"
	"github.com/qedl/qflash/internal/logging"
	"github.com/qedl/qflash/internal/serialenum"
	"github.com/qedl/qflash/internal/transport"
)

// resolvePort returns flagPort if set, else the first enumerated
// USB-class serial port.
func resolvePort() (string, error) {
	if flagPort != "" {
		return flagPort, nil
	}
	sel, err := serialenum.Enumerate()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	if sel.Path == "" {
		return "", fmt.Errorf("no USB-class serial port found; pass --port")
	}
	return sel.Path, nil
}

// openTransport resolves a port and opens it at the transport layer's
// default settings for that port kind.
func openTransport() (interfaces.Transport, error) {
	port, err := resolvePort()
	if err != nil {
		return nil, err
	}
	return transport.New(transport.DefaultConfig(port))
}

// openFirehose opens a transport and negotiates a Firehose session on
// it, returning both so callers can Close the transport when done.
func openFirehose() (*firehose.Engine, interfaces.Transport, error) {
	port, err := resolvePort()
	if err != nil {
		return nil, nil, err
	}
	t, err := transport.New(transport.DefaultConfig(port))
	if err != nil {
		return nil, nil, err
	}
	sessionLog := logging.Default().WithSession(port)
	engine := firehose.NewEngine(t, cliObserver{}, sessionLog)
	if _, err := engine.Configure(firehose.DefaultConfig()); err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("configure: %w", err)
	}
	return engine, t, nil
}

// cliObserver prints progress/log reports to stdout; used for every
// command invoked directly from the shell.
type cliObserver struct{}

func (cliObserver) ObserveProgress(percent int, step string) {
	fmt.Printf("update_percentage %d %s\n", percent, step)
}

func (cliObserver) ObserveLog(level interfaces.LogLevel, category string, msg string) {
	fmt.Printf("log_event [%s] %s\n", category, msg)
}

func (cliObserver) ObservePartitionTable(lun int, doc []byte) {
	fmt.Printf("update_partition_table lun=%d %s\n", lun, doc)
}
