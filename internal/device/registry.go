package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides entry management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Entry // Cached entries by ID
	cacheMu sync.RWMutex      // Protects cache
	logger  Logger
}

// NewRegistry creates a new entry registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Entry),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all entries from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entries, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		r.cache[e.ID] = &e
	}

	r.logger.Info("entry cache refreshed", "count", len(entries))
	return nil
}

// GetEntry retrieves an entry by ID. The returned entry is a copy.
func (r *Registry) GetEntry(ctx context.Context, id string) (*Entry, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		cp := *cached
		return &cp, nil
	}

	entry, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	cp := *entry
	r.cache[id] = &cp
	r.cacheMu.Unlock()
	return entry, nil
}

// GetByAddress retrieves an entry by BLE address in any accepted notation.
func (r *Registry) GetByAddress(ctx context.Context, address string) (*Entry, error) {
	uid, err := boneco.FormatMAC(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEntryNotFound, err)
	}

	r.cacheMu.RLock()
	for _, e := range r.cache {
		if e.UniqueID == uid {
			cp := *e
			r.cacheMu.RUnlock()
			return &cp, nil
		}
	}
	r.cacheMu.RUnlock()

	entry, err := r.repo.GetByUniqueID(ctx, uid)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	cp := *entry
	r.cache[entry.ID] = &cp
	r.cacheMu.Unlock()
	return entry, nil
}

// ListEntries returns every entry, ordered by title then address.
func (r *Registry) ListEntries(ctx context.Context) ([]Entry, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		entries := make([]Entry, 0, len(r.cache))
		for _, e := range r.cache {
			entries = append(entries, *e)
		}
		r.cacheMu.RUnlock()
		slices.SortFunc(entries, func(a, b Entry) int {
			if c := strings.Compare(a.Title, b.Title); c != 0 {
				return c
			}
			return strings.Compare(a.Address, b.Address)
		})
		return entries, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// IsConfigured reports whether an entry exists for the unique ID.
func (r *Registry) IsConfigured(ctx context.Context, uniqueID string) (bool, error) {
	_, err := r.GetByAddress(ctx, uniqueID)
	if errors.Is(err, ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateEntry validates and persists an entry, generating its ID if empty.
func (r *Registry) CreateEntry(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = GenerateID()
	}
	if err := ValidateEntry(entry); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		return err
	}

	r.cacheMu.Lock()
	cp := *entry
	r.cache[entry.ID] = &cp
	r.cacheMu.Unlock()

	r.logger.Info("entry created", "id", entry.ID, "address", entry.Address, "device_class", string(entry.DeviceClass))
	return nil
}

// RenameEntry changes an entry's title.
func (r *Registry) RenameEntry(ctx context.Context, id, title string) error {
	if title == "" || len(title) > maxTitleLength {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidEntry, maxTitleLength)
	}
	if err := r.repo.UpdateTitle(ctx, id, title); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("entry renamed", "id", id, "title", title)
	return nil
}

// DeleteEntry removes an entry.
func (r *Registry) DeleteEntry(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("entry deleted", "id", id)
	return nil
}

// Count returns the number of cached entries.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
