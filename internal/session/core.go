package session

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/config"
	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/worker"
)

// core is the state shared by the scan engine, the connection manager and the controller
type core struct {
	cfg    *config.Config
	logger *logrus.Logger
	bus    *events.Bus
	exec   *worker.Executor

	shuttingDown atomic.Bool
}

func (c *core) emit(ev events.Event) {
	c.bus.Emit(ev)
}

func (c *core) status(text string) {
	c.bus.Emit(events.StatusChanged{Status: text})
}

func (c *core) logLine(category events.Category, format string, args ...any) {
	c.bus.Emit(events.Logf(category, format, args...))
}

func (c *core) isShuttingDown() bool {
	return c.shuttingDown.Load()
}

// submit hands a long-lived loop to the executor, reporting rejection as an error log line
func (c *core) submit(name string, fn worker.Func) (*worker.Task, error) {
	return c.checkSubmit(name, c.exec.Submit, fn)
}

// submitOrdered queues a request behind every earlier request
func (c *core) submitOrdered(name string, fn worker.Func) (*worker.Task, error) {
	return c.checkSubmit(name, c.exec.SubmitOrdered, fn)
}

func (c *core) checkSubmit(name string, submit func(string, worker.Func) (*worker.Task, error), fn worker.Func) (*worker.Task, error) {
	task, err := submit(name, fn)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"task":  name,
			"error": err,
		}).Warn("Failed to schedule task")
		c.logLine(events.CategoryError, "%s", fmt.Errorf("cannot schedule %s: %w", name, err))
		return nil, err
	}
	return task, nil
}
