// Package notifications keeps the in-process notification list shown to the signed-in user
package notifications

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned for an unknown notification id
var ErrNotFound = errors.New("notification not found")

type Type string

const (
	TypeMatch       Type = "match"
	TypeUpdate      Type = "update"
	TypeRecognition Type = "recognition"
)

type Notification struct {
	ID        string
	Type      Type
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
}

// Center holds notifications newest first
type Center struct {
	mu     sync.Mutex
	items  []Notification
	logger *zap.Logger
	now    func() time.Time
}

func NewCenter(logger *zap.Logger) *Center {
	return &Center{logger: logger, now: time.Now}
}

// Add prepends an unread notification and returns it
func (c *Center) Add(kind Type, title, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Type:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.items = append([]Notification{n}, c.items...)
	c.mu.Unlock()

	c.logger.Debug("Notification added", zap.String("id", n.ID), zap.String("type", string(kind)))
	return n
}

func (c *Center) MarkAsRead(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

// MarkAllAsRead returns how many notifications changed
func (c *Center) MarkAllAsRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			changed++
		}
	}
	return changed
}

func (c *Center) Dismiss(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// List returns a copy of the notifications, newest first
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Center) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, n := range c.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Clear drops every notification, used when the identity changes
func (c *Center) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}
