package commands

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	LevelInfo  = "info"
	LevelError = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Command   string    `json:"command,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notifier interface {
	Notify(userID string, n Notification)
}

// Inbox keeps the most recent notifications per user until they are drained.
type Inbox struct {
	mu    sync.Mutex
	limit int
	items map[string][]Notification
	now   func() time.Time
}

func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 20
	}
	return &Inbox{limit: limit, items: map[string][]Notification{}, now: time.Now}
}

func (i *Inbox) Notify(userID string, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = i.now().UTC()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	list := append(i.items[userID], n)
	if len(list) > i.limit {
		list = list[len(list)-i.limit:]
	}
	i.items[userID] = list
}

// Drain returns and clears the user's notifications, oldest first.
func (i *Inbox) Drain(userID string) []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := i.items[userID]
	delete(i.items, userID)
	if list == nil {
		return []Notification{}
	}
	return list
}
