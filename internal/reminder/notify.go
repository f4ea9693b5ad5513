package reminder

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/time/rate"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// LogNotifier writes notices to the log and, optionally, a plain-text sink.
// Deliveries are throttled to RatePerSec so a large backlog doesn't flood the output.
type LogNotifier struct {
	log logx.Logger

	mu      sync.Mutex
	out     io.Writer
	limiter *rate.Limiter
}

func NewLogNotifier(log logx.Logger, out io.Writer, ratePerSec int) *LogNotifier {
	n := &LogNotifier{log: log, out: out}
	n.SetRate(ratePerSec)
	return n
}

// SetRate changes the delivery rate; values <= 0 disable throttling.
func (n *LogNotifier) SetRate(ratePerSec int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ratePerSec <= 0 {
		n.limiter = nil
		return
	}
	n.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
}

func (n *LogNotifier) Notify(ctx context.Context, nt Notice) error {
	n.mu.Lock()
	lim := n.limiter
	out := n.out
	n.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	fields := []logx.Field{
		logx.String("record", nt.RecordID),
		logx.String("customer", nt.CustomerName),
		logx.String("registration", nt.RegistrationNumber),
		logx.String("milestone", nt.Milestone.String()),
		logx.String("due", nt.Due.Format(schedule.DateLayout)),
		logx.String("state", nt.State.String()),
	}
	if nt.State == schedule.Overdue {
		n.log.Warn("service overdue", fields...)
	} else {
		n.log.Info("service due soon", fields...)
	}

	if out == nil {
		return nil
	}
	_, err := fmt.Fprintf(out, "%-8s %s  %s (%s)  %s  due %s\n",
		nt.State.Label(), nt.Milestone.Label(), nt.CustomerName, nt.RegistrationNumber, nt.RecordID,
		schedule.FormatDate(nt.Due))
	return err
}
