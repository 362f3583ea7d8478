// Package offline はアセットのオフラインキャッシュとリクエスト
// インターセプションを提供する。
//
// キャッシュはバージョン付きで保持され、Managerのライフサイクル
// （Install: 事前キャッシュ、Activate: 旧バージョン掃除）で管理される。
// Transportはhttp.RoundTripperとして外向きリクエストに割り込み、
// ネットワーク障害時にキャッシュ済みレスポンスへフォールバックする。
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CachedResponse はキャッシュされた1件のHTTPレスポンス。
type CachedResponse struct {
	// StatusCode はレスポンスのHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ全体。
	Body []byte
	// StoredAt はキャッシュへの書き込み時刻。
	StoredAt time.Time
}

// Store はバージョン付きアセットキャッシュのストレージインターフェース。
type Store interface {
	// Put はレスポンスをバージョン配下に保存する。同一URLは上書きされる。
	Put(ctx context.Context, version, requestURL string, resp *CachedResponse) error

	// Match はバージョン配下のキャッシュ済みレスポンスを検索する。
	// 見つからない場合は (nil, nil) を返す。
	Match(ctx context.Context, version, requestURL string) (*CachedResponse, error)

	// Versions はストレージに存在する全バージョン名を返す。
	Versions(ctx context.Context) ([]string, error)

	// DeleteVersion は指定バージョンの全エントリを削除する。
	DeleteVersion(ctx context.Context, version string) error
}

// PostgresStore はPostgreSQLを使用したStoreの実装。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put はレスポンスをバージョン配下に保存する。
func (s *PostgresStore) Put(ctx context.Context, version, requestURL string, resp *CachedResponse) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("レスポンスヘッダーのシリアライズに失敗しました: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO asset_cache (version, request_url, status_code, header, body, stored_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (version, request_url)
		 DO UPDATE SET status_code = EXCLUDED.status_code,
		               header = EXCLUDED.header,
		               body = EXCLUDED.body,
		               stored_at = EXCLUDED.stored_at`,
		version, requestURL, resp.StatusCode, header, resp.Body, resp.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("アセットキャッシュの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Match はバージョン配下のキャッシュ済みレスポンスを検索する。
func (s *PostgresStore) Match(ctx context.Context, version, requestURL string) (*CachedResponse, error) {
	var (
		resp      CachedResponse
		rawHeader []byte
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT status_code, header, body, stored_at
		 FROM asset_cache
		 WHERE version = $1 AND request_url = $2`,
		version, requestURL,
	).Scan(&resp.StatusCode, &rawHeader, &resp.Body, &resp.StoredAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アセットキャッシュの検索に失敗しました: %w", err)
	}

	if err := json.Unmarshal(rawHeader, &resp.Header); err != nil {
		return nil, fmt.Errorf("レスポンスヘッダーのデシリアライズに失敗しました: %w", err)
	}

	return &resp, nil
}

// Versions はストレージに存在する全バージョン名を返す。
func (s *PostgresStore) Versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT version FROM asset_cache ORDER BY version`,
	)
	if err != nil {
		return nil, fmt.Errorf("バージョン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("バージョン一覧の読み取りに失敗しました: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("バージョン一覧の走査に失敗しました: %w", err)
	}

	return versions, nil
}

// DeleteVersion は指定バージョンの全エントリを削除する。
func (s *PostgresStore) DeleteVersion(ctx context.Context, version string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM asset_cache WHERE version = $1`,
		version,
	)
	if err != nil {
		return fmt.Errorf("バージョン %s の削除に失敗しました: %w", version, err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
