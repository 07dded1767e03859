package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrNoSession is returned by Provider.Token when nobody is signed in
var ErrNoSession = errors.New("no active session")

// Identity is the signed-in user as seen by the profile services
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Clone copies the identity; nil stays nil
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	return &out
}

// SameIdentity reports whether a and b name the same user (nil == nil)
func SameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// localNamespace scopes identities derived for backends without an auth server
var localNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("volunteer-hub/local-identity"))

// LocalIdentity derives a stable identity from an email address, for the postgres
// and memory backends which have no auth server of their own
func LocalIdentity(email string) Identity {
	email = strings.ToLower(strings.TrimSpace(email))
	return Identity{
		ID:    uuid.NewSHA1(localNamespace, []byte(email)).String(),
		Email: email,
	}
}

type subscription struct {
	id int
	fn func(*Identity)
}

// Provider holds the current identity and its access token, and notifies
// subscribers when the identity changes.
type Provider struct {
	// notifyMu keeps notifications in the order the changes happened
	notifyMu sync.Mutex

	mu       sync.RWMutex
	identity *Identity
	tokens   oauth2.TokenSource
	subs     []subscription
	nextID   int
}

func NewProvider() *Provider {
	return &Provider{}
}

// Current returns a copy of the signed-in identity, or nil
func (p *Provider) Current() *Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity.Clone()
}

// Subscribe registers fn for identity changes. Callbacks run synchronously in
// registration order and must not call SignIn or SignOut.
func (p *Provider) Subscribe(fn func(*Identity)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, sub := range p.subs {
				if sub.id == id {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeCurrent is Subscribe that first calls fn with the current identity.
// No change is delivered between that call and the registration, so fn sees
// every identity from the current one onwards, in order.
func (p *Provider) SubscribeCurrent(fn func(*Identity)) (unsubscribe func()) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	unsubscribe = p.Subscribe(fn)
	fn(p.Current())
	return unsubscribe
}

// SignIn replaces the current identity. tokens may be nil for backends that
// do not authenticate requests. Subscribers are notified only if the identity changed.
func (p *Provider) SignIn(identity Identity, tokens oauth2.TokenSource) {
	p.set(&identity, tokens)
}

// SignOut clears the identity and token
func (p *Provider) SignOut() {
	p.set(nil, nil)
}

// Token returns the current access token, refreshing it if the source supports that.
// Provider is itself an oauth2.TokenSource.
func (p *Provider) Token() (*oauth2.Token, error) {
	p.mu.RLock()
	tokens := p.tokens
	p.mu.RUnlock()

	if tokens == nil {
		return nil, ErrNoSession
	}
	return tokens.Token()
}

func (p *Provider) set(identity *Identity, tokens oauth2.TokenSource) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	changed := !SameIdentity(p.identity, identity)
	p.identity = identity.Clone()
	p.tokens = tokens
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, sub := range subs {
		sub.fn(identity.Clone())
	}
}
