// Package debug starts the eino visual debugger and a small health
// endpoint for long-running processes.
package debug

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/logging"
)

// devops' own default
const defaultDebugPort = 52538

type EinoDebugger struct {
	config config.Config
	logger *logging.Logger
}

func NewEinoDebugger(cfg config.Config, logger *logging.Logger) *EinoDebugger {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &EinoDebugger{config: cfg, logger: logger.With("component", "eino_debug")}
}

// Initialize registers the devops server. It must run before any graph is
// compiled so the stage graph and the reasoning chains are visible in it.
func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.config.EinoDebugEnabled {
		return nil
	}
	d.logger.Info("initializing eino visual debugger", "port", d.port())
	if err := devops.Init(ctx, devops.WithDevServerPort(strconv.Itoa(d.port()))); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	d.logger.Info("eino debugger ready", "url", d.GetDebugURL())
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.config.EinoDebugEnabled
}

func (d *EinoDebugger) GetDebugURL() string {
	if !d.config.EinoDebugEnabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.port())
}

func (d *EinoDebugger) port() int {
	if d.config.EinoDebugPort > 0 {
		return d.config.EinoDebugPort
	}
	return defaultDebugPort
}
