package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner runs registered shutdown callbacks once, newest first, then
// flushes the logger.
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleanOnce      sync.Once
	cleaning       bool
	timeout        time.Duration
	loggerShutdown Callable
	err            error
}

var cleanerInstance = NewCleaner()

// Default returns the process-wide cleaner.
func Default() *Cleaner {
	return cleanerInstance
}

func NewCleaner() *Cleaner {
	return &Cleaner{timeout: 10 * time.Second}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Init registers the logger flush and starts watching SIGINT/SIGTERM.
func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		c.mu.Lock()
		c.loggerShutdown = loggerShutdown
		c.mu.Unlock()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		go func() {
			<-ctx.Done()
			stop()
			logger.Info("Received interrupt signal, shutting down")
			if err := c.Clean(); err != nil {
				os.Exit(1)
			}
			os.Exit(0)
		}()
	})
}

// Clean invokes every callback with its own timeout. Later calls return the
// first call's result.
func (c *Cleaner) Clean() error {
	c.cleanOnce.Do(func() {
		c.mu.Lock()
		c.cleaning = true
		cleanersCopy := make([]Callable, len(c.cleaners))
		copy(cleanersCopy, c.cleaners)
		loggerShutdown := c.loggerShutdown
		c.mu.Unlock()

		logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

		var errs []error
		for i := len(cleanersCopy) - 1; i >= 0; i-- {
			callable := cleanersCopy[i]
			func() {
				logger.DebugF("Invoking cleaner #%d (%T)", i+1, callable)
				timeoutCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
				defer cancel()
				if err := callable.Invoke(timeoutCtx); err != nil {
					logger.ErrorF("Cleaner #%d (%T) failed: %v", i+1, callable, err)
					errs = append(errs, err)
				}
			}()
		}

		if len(errs) > 0 {
			logger.ErrorF("%d errors occurred during cleanup", len(errs))
		} else {
			logger.Debug("All cleaners executed successfully")
		}

		if loggerShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := loggerShutdown.Invoke(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
			}
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}
