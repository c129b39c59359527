// Package events provides event handling functionality
package events

import (
	"context"
	"sync"

	"github.com/multimessenger/nmmadb/internal/logger"
)

// EventType represents the type of job lifecycle event
type EventType string

const (
	// EventJobEnqueued is emitted when a new fit job is inserted
	EventJobEnqueued EventType = "job_enqueued"
	// EventJobFinished is emitted when a fit job reaches a terminal state
	EventJobFinished EventType = "job_finished"
	// EventChannelSize is the buffer size for the event channel
	EventChannelSize = 100
)

// Event represents a job lifecycle event
type Event struct {
	Type      EventType // The type of event
	JobID     uint      // The fit job ID
	ObjectID  string    // The candidate being fit
	ModelName string    // The model being fit
}

// Handler is a function that handles an event
type Handler func(context.Context, Event) error

var (
	handlers   = make(map[EventType][]Handler)
	handlersMu sync.RWMutex
	eventChan  = make(chan Event, EventChannelSize)
)

// Subscribe registers a handler for a specific event type
func Subscribe(eventType EventType, handler Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[eventType] = append(handlers[eventType], handler)
	logger.Debugf("Registered handler for event type: %s", eventType)
}

// Publish sends an event to be processed. Publishing never blocks the
// caller: if the buffer is full the event is dropped, which is safe
// because the dispatcher polls the store regardless.
func Publish(event Event) {
	select {
	case eventChan <- event:
		logger.Debugf("Published event: %s (job: %d)", event.Type, event.JobID)
	default:
		logger.Warnf("Event channel full, dropping event: %s (job: %d)", event.Type, event.JobID)
	}
}

// Start starts the event processing loop
func Start(ctx context.Context) {
	go processEvents(ctx)
	logger.Info("Started event processing loop")
}

// processEvents handles events in the background
func processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping event processing loop")
			return
		case event := <-eventChan:
			handlersMu.RLock()
			eventHandlers := handlers[event.Type]
			handlersMu.RUnlock()

			for _, handler := range eventHandlers {
				if err := handler(ctx, event); err != nil {
					logger.Errorf("Event handler error for %s: %v", event.Type, err)
				}
			}
		}
	}
}
