package dynamodel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pay-theory/dynamodel/pkg/session"
)

// partnerRefreshMargin is how long before the role session ends a cached
// partner DB is rebuilt.
const partnerRefreshMargin = 5 * time.Minute

// AccountConfig describes a partner account reached by assuming a role.
type AccountConfig struct {
	RoleARN    string
	ExternalID string
	// Region defaults to the base DB's region.
	Region string
	// SessionDuration defaults to one hour.
	SessionDuration time.Duration
}

// MultiAccountDB hands out DBs for partner accounts. Partner DBs share the
// base DB's schema registry, so tables are registered once.
type MultiAccountDB struct {
	base     *DB
	mu       sync.RWMutex
	accounts map[string]AccountConfig
	cache    sync.Map // partner ID -> *cacheEntry
	opts     []Option

	build func(ctx context.Context, cfg *session.Config, opts ...Option) (*DB, error)
	now   func() time.Time
}

type cacheEntry struct {
	db     *DB
	expiry time.Time
}

// NewMultiAccount creates a multi-account DB on top of base. opts are passed
// to every partner DB.
func NewMultiAccount(base *DB, accounts map[string]AccountConfig, opts ...Option) *MultiAccountDB {
	cp := make(map[string]AccountConfig, len(accounts))
	for id, a := range accounts {
		cp[id] = a
	}
	return &MultiAccountDB{
		base:     base,
		accounts: cp,
		opts:     opts,
		build:    New,
		now:      time.Now,
	}
}

// Base returns the DB of the home account.
func (mdb *MultiAccountDB) Base() *DB { return mdb.base }

// Partner returns the DB for partnerID. An empty ID returns the base DB.
func (mdb *MultiAccountDB) Partner(ctx context.Context, partnerID string) (*DB, error) {
	if partnerID == "" {
		return mdb.base, nil
	}
	if cached, ok := mdb.cache.Load(partnerID); ok {
		if entry := cached.(*cacheEntry); mdb.now().Before(entry.expiry) {
			return entry.db, nil
		}
	}

	mdb.mu.RLock()
	account, ok := mdb.accounts[partnerID]
	mdb.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown partner: %s", partnerID)
	}
	return mdb.createPartnerDB(ctx, partnerID, account)
}

// PartnerFromContext returns the DB of the partner stored by PartnerContext.
func (mdb *MultiAccountDB) PartnerFromContext(ctx context.Context) (*DB, error) {
	return mdb.Partner(ctx, GetPartnerFromContext(ctx))
}

// AddPartner adds or replaces a partner configuration.
func (mdb *MultiAccountDB) AddPartner(partnerID string, account AccountConfig) {
	mdb.mu.Lock()
	mdb.accounts[partnerID] = account
	mdb.mu.Unlock()
	mdb.cache.Delete(partnerID)
}

// RemovePartner removes a partner and its cached DB.
func (mdb *MultiAccountDB) RemovePartner(partnerID string) {
	mdb.mu.Lock()
	delete(mdb.accounts, partnerID)
	mdb.mu.Unlock()
	mdb.cache.Delete(partnerID)
}

func (mdb *MultiAccountDB) createPartnerDB(ctx context.Context, partnerID string, account AccountConfig) (*DB, error) {
	duration := account.SessionDuration
	if duration == 0 {
		duration = time.Hour
	}

	cfg := *mdb.base.config
	cfg.AssumeRoleARN = account.RoleARN
	cfg.ExternalID = account.ExternalID
	cfg.RoleSessionName = "dynamodel-" + partnerID
	cfg.SessionDuration = duration
	cfg.Logger = mdb.base.logger.With(zap.String("partner", partnerID))
	if account.Region != "" {
		cfg.Region = account.Region
	}

	opts := append([]Option{WithRegistry(mdb.base.registry)}, mdb.opts...)
	db, err := mdb.build(ctx, &cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create partner DB for %s: %w", partnerID, err)
	}

	expiry := mdb.now().Add(duration - partnerRefreshMargin)
	mdb.cache.Store(partnerID, &cacheEntry{db: db, expiry: expiry})
	mdb.base.logger.Debug("created partner DB",
		zap.String("partner", partnerID),
		zap.String("role", account.RoleARN),
		zap.Time("expiry", expiry))
	return db, nil
}

type partnerContextKey struct{}

// PartnerContext stores partnerID in ctx.
func PartnerContext(ctx context.Context, partnerID string) context.Context {
	return context.WithValue(ctx, partnerContextKey{}, partnerID)
}

// GetPartnerFromContext returns the partner ID stored by PartnerContext.
func GetPartnerFromContext(ctx context.Context) string {
	if partnerID, ok := ctx.Value(partnerContextKey{}).(string); ok {
		return partnerID
	}
	return ""
}
