package annotation

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/labelous/labelsync/internal/datastore"
	"github.com/labelous/labelsync/internal/errors"
)

// SubjectInfo is the result of a subject item lookup.
type SubjectInfo struct {
	Exists  bool
	Visible bool
}

// SubjectResolver resolves a subject item reference to existence and
// visibility. Lookups are simple synchronous calls with no retry logic.
type SubjectResolver interface {
	Lookup(id uint) (SubjectInfo, error)
}

// StoreSubjects resolves subjects directly against the datastore.
type StoreSubjects struct {
	Store datastore.Interface
}

// Lookup implements SubjectResolver.
func (s *StoreSubjects) Lookup(id uint) (SubjectInfo, error) {
	image, err := s.Store.GetImage(id)
	if err != nil {
		if errors.Is(err, datastore.ErrRecordNotFound) {
			return SubjectInfo{}, nil
		}
		return SubjectInfo{}, err
	}
	return SubjectInfo{Exists: true, Visible: image.Visible}, nil
}

// CachedSubjects wraps a SubjectResolver with a short-lived cache. Every
// import and export performs a subject lookup, and visibility changes
// rarely, so a small TTL takes the read off the hot path. Negative
// results are cached too.
type CachedSubjects struct {
	inner SubjectResolver
	cache *gocache.Cache
}

// NewCachedSubjects builds a caching resolver with the given TTL.
func NewCachedSubjects(inner SubjectResolver, ttl time.Duration) *CachedSubjects {
	return &CachedSubjects{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Lookup implements SubjectResolver.
func (c *CachedSubjects) Lookup(id uint) (SubjectInfo, error) {
	key := strconv.FormatUint(uint64(id), 10)
	if cached, found := c.cache.Get(key); found {
		return cached.(SubjectInfo), nil
	}
	info, err := c.inner.Lookup(id)
	if err != nil {
		return SubjectInfo{}, err
	}
	c.cache.SetDefault(key, info)
	return info, nil
}
