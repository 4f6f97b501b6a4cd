package store

import (
	"sync"
	"time"

	"github.com/osdi23p228/azhlf/pkg/fab"
	log "github.com/sirupsen/logrus"
)

type cachedIdentity struct {
	identity *fab.Identity
	loadedAt time.Time
}

// CredentialProvider resolves identities from the wallets and caches them for
// the refresh interval. A zero interval reloads on every call.
type CredentialProvider struct {
	store   *Store
	refresh time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedIdentity
}

var _ fab.IdentityProvider = (*CredentialProvider)(nil)

func NewCredentialProvider(store *Store, refresh time.Duration, logger *log.Logger) *CredentialProvider {
	return &CredentialProvider{
		store:   store,
		refresh: refresh,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cachedIdentity),
	}
}

func (p *CredentialProvider) Identity(org, user string) (*fab.Identity, error) {
	key := org + "/" + user

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.cache[key]; ok && p.refresh > 0 && p.now().Sub(c.loadedAt) < p.refresh {
		return c.identity, nil
	}

	id, err := p.store.LoadIdentity(org, user)
	if err != nil {
		delete(p.cache, key)
		return nil, err
	}
	p.logger.WithFields(log.Fields{"org": org, "user": user}).Debug("Loaded identity")

	if p.refresh > 0 {
		p.cache[key] = cachedIdentity{identity: id, loadedAt: p.now()}
	}
	return id, nil
}
