package enrichment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingClient memoizes FetchFileInfo results. File ids are stable and the
// same sticker is sent into many chats, so hits are common. Chat details are
// fetched once per chat creation and pass straight through.
type CachingClient struct {
	inner Client
	cache *cache.Cache
}

type cachedFile struct {
	info    *FileInfo
	tooBig  bool
	missing bool
}

// NewCachingClient wraps inner with a file-info cache whose entries live for
// ttl. A non-positive ttl disables caching.
func NewCachingClient(inner Client, ttl time.Duration) *CachingClient {
	c := &CachingClient{inner: inner}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

func (c *CachingClient) FetchChatDetails(ctx context.Context, botID int64, externalChatID string) (map[string]any, error) {
	return c.inner.FetchChatDetails(ctx, botID, externalChatID)
}

// FetchFileInfo serves from the cache when possible. ErrFileTooLarge is cached
// too; transient failures are not.
func (c *CachingClient) FetchFileInfo(ctx context.Context, botID int64, fileRef string) (*FileInfo, error) {
	if c.cache == nil {
		return c.inner.FetchFileInfo(ctx, botID, fileRef)
	}
	key := strconv.FormatInt(botID, 10) + ":" + fileRef
	if x, found := c.cache.Get(key); found {
		e := x.(cachedFile)
		switch {
		case e.tooBig:
			return nil, ErrFileTooLarge
		case e.missing:
			return nil, nil
		}
		cp := *e.info
		return &cp, nil
	}

	info, err := c.inner.FetchFileInfo(ctx, botID, fileRef)
	switch {
	case errors.Is(err, ErrFileTooLarge):
		c.cache.Set(key, cachedFile{tooBig: true}, cache.DefaultExpiration)
		return nil, err
	case err != nil:
		return nil, err
	case info == nil:
		c.cache.Set(key, cachedFile{missing: true}, cache.DefaultExpiration)
		return nil, nil
	}
	cp := *info
	c.cache.Set(key, cachedFile{info: &cp}, cache.DefaultExpiration)
	return info, nil
}

// Len reports the number of cached entries.
func (c *CachingClient) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.ItemCount()
}
