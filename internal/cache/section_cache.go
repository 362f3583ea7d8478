// Package cache はセクション単位の集約結果のTTL付き永続キャッシュを提供する。
//
// キャッシュはベストエフォートであり、読み書きのあらゆる失敗は
// 「ミス」または「書き込みスキップ」に縮退する。エラーがこのパッケージの
// 外へ伝播することはなく、キャッシュ障害でパイプラインは停止しない。
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// keyPrefix はキャッシュキーの名前空間接頭辞。
// 同一ストレージを共有する他機能との衝突を避ける。
const keyPrefix = "news_"

// SectionCache はセクション集約結果のキャッシュ機能のインターフェース。
type SectionCache interface {
	// Get はセクションのキャッシュエントリを返す。
	// エントリが存在しない、破損している、またはTTLを超過している場合はnilを返す。
	Get(ctx context.Context, section string, ttl time.Duration) *model.CacheEntry

	// GetStale はTTLを無視してセクションのキャッシュエントリを返す。
	// リフレッシュ失敗時のフォールバック用。存在しない・破損時はnil。
	GetStale(ctx context.Context, section string) *model.CacheEntry

	// Set はセクションのキャッシュを丸ごと上書きする。
	// 差分マージは行わない。書き込み失敗は警告ログのみで黙殺される。
	Set(ctx context.Context, section string, items []model.NewsItem)
}

// PostgresSectionCache はPostgreSQLを使用したSectionCacheの実装。
type PostgresSectionCache struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresSectionCache はPostgresSectionCacheを生成する。
func NewPostgresSectionCache(db *sql.DB, logger *slog.Logger) *PostgresSectionCache {
	return &PostgresSectionCache{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// cacheKey はセクションIDからキャッシュキーを構築する。
func cacheKey(section string) string {
	return keyPrefix + section
}

// Get はセクションのキャッシュエントリを返す。
// 欠落・破損・期限切れはいずれもnil（ミス）として扱う。
func (c *PostgresSectionCache) Get(ctx context.Context, section string, ttl time.Duration) *model.CacheEntry {
	entry := c.GetStale(ctx, section)
	if entry == nil {
		return nil
	}

	if !entry.IsFresh(c.now(), ttl) {
		return nil
	}

	return entry
}

// GetStale はTTLを無視してセクションのキャッシュエントリを返す。
func (c *PostgresSectionCache) GetStale(ctx context.Context, section string) *model.CacheEntry {
	var (
		cachedAt time.Time
		rawItems []byte
	)

	err := c.db.QueryRowContext(ctx,
		`SELECT cached_at, items FROM section_cache WHERE cache_key = $1`,
		cacheKey(section),
	).Scan(&cachedAt, &rawItems)

	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		c.logger.Warn("キャッシュの読み取りに失敗したためミスとして扱います",
			slog.String("section", section),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var items []model.NewsItem
	if err := json.Unmarshal(rawItems, &items); err != nil {
		// 破損エントリはミスとして扱い、次回のSetで上書きされる
		c.logger.Warn("キャッシュエントリが破損しているためミスとして扱います",
			slog.String("section", section),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return &model.CacheEntry{
		CachedAt: cachedAt,
		Items:    items,
	}
}

// Set はセクションのキャッシュを丸ごと上書きする。
func (c *PostgresSectionCache) Set(ctx context.Context, section string, items []model.NewsItem) {
	rawItems, err := json.Marshal(items)
	if err != nil {
		c.logger.Warn("キャッシュエントリのシリアライズに失敗したため書き込みをスキップします",
			slog.String("section", section),
			slog.String("error", err.Error()),
		)
		return
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO section_cache (cache_key, cached_at, items)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key)
		 DO UPDATE SET cached_at = EXCLUDED.cached_at, items = EXCLUDED.items`,
		cacheKey(section), c.now(), rawItems,
	)
	if err != nil {
		c.logger.Warn("キャッシュの書き込みに失敗しました",
			slog.String("section", section),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Debug("キャッシュを更新しました",
		slog.String("section", section),
		slog.Int("items", len(items)),
	)
}

// compile-time interface check
var _ SectionCache = (*PostgresSectionCache)(nil)
