package session

import (
	"sync"
	"time"
)

// DefaultNoticeTimeout is how long a connectivity notice stays visible.
const DefaultNoticeTimeout = 3 * time.Second

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notice is a transient message shown to the user.
type Notice struct {
	ID      int
	Level   Level
	Message string
	At      time.Time
}

// Notifier holds transient notices. Each one is dismissed automatically after
// the timeout; OnChange is called with the visible notices whenever the set
// changes.
type Notifier struct {
	lock     sync.Mutex
	timeout  time.Duration
	nextID   int
	active   []Notice
	timers   map[int]*time.Timer
	onChange func(active []Notice)
}

func NewNotifier(timeout time.Duration, onChange func(active []Notice)) *Notifier {
	if timeout <= 0 {
		timeout = DefaultNoticeTimeout
	}
	return &Notifier{
		timeout:  timeout,
		timers:   map[int]*time.Timer{},
		onChange: onChange,
	}
}

func (n *Notifier) Show(level Level, message string) Notice {
	n.lock.Lock()
	n.nextID++
	notice := Notice{ID: n.nextID, Level: level, Message: message, At: time.Now()}
	n.active = append(n.active, notice)
	n.timers[notice.ID] = time.AfterFunc(n.timeout, func() {
		n.Dismiss(notice.ID)
	})
	active := n.snapshot()
	n.lock.Unlock()

	n.changed(active)
	return notice
}

func (n *Notifier) Dismiss(id int) {
	n.lock.Lock()
	idx := -1
	for i, notice := range n.active {
		if notice.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		n.lock.Unlock()
		return
	}
	n.active = append(n.active[:idx], n.active[idx+1:]...)
	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
	active := n.snapshot()
	n.lock.Unlock()

	n.changed(active)
}

func (n *Notifier) Active() []Notice {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.snapshot()
}

// Stop cancels pending dismissals and clears every notice.
func (n *Notifier) Stop() {
	n.lock.Lock()
	defer n.lock.Unlock()
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	n.active = nil
}

func (n *Notifier) snapshot() []Notice {
	return append([]Notice(nil), n.active...)
}

func (n *Notifier) changed(active []Notice) {
	if n.onChange != nil {
		n.onChange(active)
	}
}
