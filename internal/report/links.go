// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/store"
	"github.com/dastyar-team/dastyar/pkg/types"
)

var (
	ErrTokenUnknown = errors.New("download link is unknown")
	ErrTokenExpired = errors.New("download link has expired")
	ErrTokenUsed    = errors.New("download link was already used")
	ErrTokenOwner   = errors.New("download link belongs to another user")
)

const (
	// MinTTL is the shortest lifetime a link is issued with.
	MinTTL = time.Hour

	tokenBytes    = 24
	issueAttempts = 10
)

// LinkStore is the subset of the store that backs download links.
type LinkStore interface {
	InsertLink(ctx context.Context, link types.DownloadLink) error
	Link(ctx context.Context, token string) (types.DownloadLink, error)
	MarkLinkUsed(ctx context.Context, token string, usedBy int64, at time.Time) (bool, error)
	DeleteLink(ctx context.Context, token string) error
	StaleLinks(ctx context.Context, now time.Time, includeUsed bool) ([]types.DownloadLink, error)
	DeleteLinks(ctx context.Context, tokens []string) (int64, error)
}

// Links issues and redeems single-use download tokens.
type Links struct {
	store  LinkStore
	ttl    time.Duration
	now    func() time.Time
	token  func() (string, error)
	logger *log.Logger
}

// NewLinks returns a Links with the given lifetime, raised to MinTTL.
func NewLinks(st LinkStore, ttl time.Duration, logger *log.Logger) *Links {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	return &Links{
		store:  st,
		ttl:    ttl,
		now:    time.Now,
		token:  newToken,
		logger: logging.Component(logger, "links"),
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue stores a new link for path owned by userID. A token collision is
// retried with a fresh token.
func (l *Links) Issue(ctx context.Context, userID int64, path, filename string) (types.DownloadLink, error) {
	now := l.now()
	var lastErr error
	for range issueAttempts {
		token, err := l.token()
		if err != nil {
			return types.DownloadLink{}, fmt.Errorf("generating token: %w", err)
		}
		link := types.DownloadLink{
			Token:     token,
			UserID:    userID,
			FilePath:  path,
			Filename:  filename,
			CreatedAt: now,
			ExpiresAt: now.Add(l.ttl),
		}
		if err := l.store.InsertLink(ctx, link); err != nil {
			lastErr = err
			continue
		}
		l.logger.Info("link_issued", "user", userID, "file", filename, "expires", link.ExpiresAt.Format(time.RFC3339))
		return link, nil
	}
	return types.DownloadLink{}, fmt.Errorf("issuing link after %d attempts: %w", issueAttempts, lastErr)
}

// Revoke deletes a link, used when its delivery failed.
func (l *Links) Revoke(ctx context.Context, token string) error {
	return l.store.DeleteLink(ctx, token)
}

// Redeem validates token for userID and marks it used. A userID of zero
// skips the owner check.
func (l *Links) Redeem(ctx context.Context, token string, userID int64) (types.DownloadLink, error) {
	link, err := l.store.Link(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return types.DownloadLink{}, ErrTokenUnknown
	}
	if err != nil {
		return types.DownloadLink{}, err
	}

	now := l.now()
	if now.After(link.ExpiresAt) {
		return link, ErrTokenExpired
	}
	if link.UsedAt != nil {
		return link, ErrTokenUsed
	}
	if userID != 0 && link.UserID != 0 && link.UserID != userID {
		return link, ErrTokenOwner
	}

	ok, err := l.store.MarkLinkUsed(ctx, token, userID, now)
	if err != nil {
		return link, err
	}
	if !ok {
		return link, ErrTokenUsed
	}
	link.UsedAt = &now
	link.UsedBy = userID
	l.logger.Info("link_redeemed", "user", userID, "file", link.Filename)
	return link, nil
}

// Cleanup deletes expired links, and used links when includeUsed is set,
// together with their files. It returns the number of rows removed.
func (l *Links) Cleanup(ctx context.Context, includeUsed bool) (int64, error) {
	stale, err := l.store.StaleLinks(ctx, l.now(), includeUsed)
	if err != nil {
		return 0, err
	}
	tokens := make([]string, 0, len(stale))
	for _, link := range stale {
		if link.FilePath != "" {
			if err := os.Remove(link.FilePath); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("link_file_remove_failed", "path", link.FilePath, "err", err)
			}
		}
		tokens = append(tokens, link.Token)
	}
	n, err := l.store.DeleteLinks(ctx, tokens)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("links_cleaned", "count", n)
	}
	return n, nil
}

// DeepLink returns the bot start URL for token, or "" when either part is
// missing.
func DeepLink(bot, token string) string {
	bot = strings.TrimPrefix(strings.TrimSpace(bot), "@")
	if bot == "" || token == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", bot, token)
}
