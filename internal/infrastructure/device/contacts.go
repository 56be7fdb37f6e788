package device

import (
	"sync"

	"callcore/internal/core/domain"
)

type ContactsConfig struct {
	System  []string
	Blocked []string
	// AcceptUnknown treats callers outside the system contacts as accepted
	// message requests.
	AcceptUnknown bool
}

// Contacts is the recipient directory backed by configuration.
type Contacts struct {
	mu            sync.RWMutex
	system        map[domain.RecipientID]struct{}
	blocked       map[domain.RecipientID]struct{}
	accepted      map[domain.RecipientID]struct{}
	acceptUnknown bool
}

func NewContacts(cfg ContactsConfig) *Contacts {
	c := &Contacts{
		system:        make(map[domain.RecipientID]struct{}, len(cfg.System)),
		blocked:       make(map[domain.RecipientID]struct{}, len(cfg.Blocked)),
		accepted:      make(map[domain.RecipientID]struct{}),
		acceptUnknown: cfg.AcceptUnknown,
	}
	for _, r := range cfg.System {
		c.system[domain.RecipientID(r)] = struct{}{}
	}
	for _, r := range cfg.Blocked {
		c.blocked[domain.RecipientID(r)] = struct{}{}
	}
	return c
}

func (c *Contacts) IsBlocked(recipient domain.RecipientID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocked[recipient]
	return ok
}

func (c *Contacts) IsSystemContact(recipient domain.RecipientID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.system[recipient]
	return ok
}

func (c *Contacts) IsCallRequestAccepted(recipient domain.RecipientID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.system[recipient]; ok {
		return true
	}
	if _, ok := c.accepted[recipient]; ok {
		return true
	}
	return c.acceptUnknown
}

// Accept marks the recipient's message request as accepted.
func (c *Contacts) Accept(recipient domain.RecipientID) {
	c.mu.Lock()
	c.accepted[recipient] = struct{}{}
	c.mu.Unlock()
}

func (c *Contacts) Block(recipient domain.RecipientID) {
	c.mu.Lock()
	c.blocked[recipient] = struct{}{}
	c.mu.Unlock()
}

func (c *Contacts) Unblock(recipient domain.RecipientID) {
	c.mu.Lock()
	delete(c.blocked, recipient)
	c.mu.Unlock()
}
