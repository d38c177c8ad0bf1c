package pipeline

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/drowsiness"
)

const storeTimeout = 5 * time.Second

// Notifier sounds the alarm and persists the session flag when a
// microsleep fires. Store writes run in the background so a slow database
// never stalls the worker.
type Notifier struct {
	alarm Alarm
	store SessionStore
	wg    sync.WaitGroup
	log   *log.Entry
}

// NewNotifier creates a notifier. Either collaborator may be nil.
func NewNotifier(alarm Alarm, store SessionStore) *Notifier {
	return &Notifier{
		alarm: alarm,
		store: store,
		log:   log.WithField("component", "notifier"),
	}
}

// HandleEvent acts on Fired events and ignores the rest.
func (n *Notifier) HandleEvent(ctx context.Context, ev drowsiness.Event) {
	if ev.Outcome != drowsiness.Fired {
		return
	}

	if n.alarm != nil {
		if err := n.alarm.Play(); err != nil {
			n.log.Errorf("failed to play alarm: %v", err)
		}
	}

	if n.store == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()

		if err := n.store.SetMicrosleep(ctx, true); err != nil {
			n.log.Errorf("failed to persist microsleep flag: %v", err)
		}
		if err := n.store.RecordEvent(ctx, ev); err != nil {
			n.log.Errorf("failed to record microsleep event: %v", err)
		}
	}()
}

// Wait blocks until pending store writes finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
