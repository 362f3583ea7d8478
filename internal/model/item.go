// Package model はドメインモデルを定義する。
package model

import "time"

// NewsItem はフィードから取得・正規化された1件のニュース記事を表す。
// フィードフェッチャーが構築した後は不変として扱う。
type NewsItem struct {
	// Title は記事タイトル（マークアップ除去済み、必要なら翻訳済み）。
	Title string `json:"title"`
	// Description は記事概要（マークアップ除去済み、最大300文字に切り詰め）。
	Description string `json:"description"`
	// Link は記事URL。欠落時は "#" が設定される。
	Link string `json:"link"`
	// PubDate はフィードが申告した公開日時の文字列（元の形式のまま保持）。
	PubDate string `json:"pubDate"`
	// Source は記事の取得元フィードの表示名。
	Source string `json:"source"`
	// Lang は取得元フィードの言語コード。
	Lang string `json:"lang"`
	// OriginalTitle は翻訳が行われた場合のみ設定される翻訳前タイトル。
	// 表示側でツールチップ等に使用する。
	OriginalTitle string `json:"originalTitle,omitempty"`
}

// CacheEntry はセクション単位の永続キャッシュエントリを表す。
// リフレッシュ成功時に丸ごと上書きされ、差分マージは行わない。
type CacheEntry struct {
	// CachedAt はエントリが書き込まれた時刻。
	CachedAt time.Time `json:"timestamp"`
	// Items はセクションの集約済み記事リスト。
	Items []NewsItem `json:"items"`
}

// Age は現在時刻を基準としたエントリの経過時間を返す。
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// IsFresh はエントリがTTL以内かどうかを判定する。
// エントリが有効（fresh）なのは now - CachedAt <= ttl の場合のみ。
func (e *CacheEntry) IsFresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) <= ttl
}
