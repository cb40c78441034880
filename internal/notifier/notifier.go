// Package notifier alerts operators when scan jobs fail. Alert targets
// are shoutrrr URLs (discord://, telegram://, smtp:// and so on) taken
// from configuration; an empty target list disables alerting.
package notifier

import (
	"fmt"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/eventbus"
	"github.com/krittin/examscan/internal/logger"
)

// throttleWindow suppresses repeat alerts for the same user within this
// window, so a burst of failing jobs produces one message, not dozens.
const throttleWindow = 5 * time.Minute

// send is swapped out in tests.
var send = shoutrrr.Send

type Notifier struct {
	eventBus eventbus.Publisher
	urls     []string

	mu       sync.Mutex
	lastSent map[string]time.Time // user id -> last alert time
}

func NewNotifier(eb eventbus.Publisher, urls []string) *Notifier {
	return &Notifier{
		eventBus: eb,
		urls:     urls,
		lastSent: make(map[string]time.Time),
	}
}

func (n *Notifier) Start() {
	if len(n.urls) == 0 {
		logger.Infof("Notifier disabled (no alert URLs configured)")
		return
	}
	n.eventBus.Subscribe(n.handleJobCompleted, domain.ScanJobCompleted)
	logger.Infof("Notifier started (%d target(s))", len(n.urls))
}

func (n *Notifier) handleJobCompleted(event domain.Event) {
	data := event.ParseJobCompletedData()
	if !data.Failed() {
		return
	}

	n.mu.Lock()
	if last, ok := n.lastSent[event.UserID]; ok && time.Since(last) < throttleWindow {
		n.mu.Unlock()
		logger.Debugf("Suppressing repeat failure alert for user %s", event.UserID)
		return
	}
	n.lastSent[event.UserID] = time.Now()
	n.mu.Unlock()

	message := fmt.Sprintf("Scan job %s failed for user %s: %s", event.JobID, event.UserID, data.Error)
	for _, url := range n.urls {
		if err := send(url, message); err != nil {
			logger.Errorf("Failed to send failure alert: %v", err)
		}
	}
}
