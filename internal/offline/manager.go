package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Manager はアセットキャッシュのライフサイクルを管理する。
//
//	Install:  マニフェストに列挙されたアセットを現行バージョンへ事前キャッシュする
//	Activate: 現行バージョン以外のキャッシュをすべて削除する
//
// 起動時に Install → Activate の順で呼ぶ。Activate完了後は
// ストレージに現行バージョンのエントリのみが残る。
type Manager struct {
	store   Store
	client  *http.Client
	version string
	baseURL string
	logger  *slog.Logger
}

// NewManager はManagerを生成する。
// versionは現行のキャッシュバージョン名（例: "v3"）。
// baseURLはマニフェストの相対パスを解決する基点（例: "http://localhost:8080"）。
func NewManager(store Store, client *http.Client, version, baseURL string, logger *slog.Logger) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		store:   store,
		client:  client,
		version: version,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Version は現行のキャッシュバージョン名を返す。
func (m *Manager) Version() string {
	return m.version
}

// Install はマニフェストの全アセットを現行バージョンへ事前キャッシュする。
// 1件でも取得に失敗した場合はエラーを返す（インストール失敗）。
// 失敗してもそれまでに保存済みのエントリは残り、次回のInstallで上書きされる。
func (m *Manager) Install(ctx context.Context, manifest []string) error {
	m.logger.Info("アセットの事前キャッシュを開始します",
		slog.String("version", m.version),
		slog.Int("assets", len(manifest)),
	)

	var errs []error
	for _, asset := range manifest {
		if err := m.precache(ctx, asset); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("アセットの事前キャッシュに失敗しました: %w", errors.Join(errs...))
	}

	m.logger.Info("アセットの事前キャッシュが完了しました",
		slog.String("version", m.version),
		slog.Int("assets", len(manifest)),
	)
	return nil
}

// precache は1件のアセットを取得してキャッシュへ保存する。
func (m *Manager) precache(ctx context.Context, asset string) error {
	assetURL, err := m.resolve(asset)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("アセットの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("アセットがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return m.store.Put(ctx, m.version, assetURL, &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	})
}

// resolve はマニフェストのエントリを絶対URLに解決する。
// 絶対URLはそのまま、相対パスはbaseURLを基点に解決する。
func (m *Manager) resolve(asset string) (string, error) {
	parsed, err := url.Parse(asset)
	if err != nil {
		return "", fmt.Errorf("アセットパスのパースに失敗しました: %w", err)
	}
	if parsed.IsAbs() {
		return asset, nil
	}

	base, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("ベースURLのパースに失敗しました: %w", err)
	}
	return base.ResolveReference(parsed).String(), nil
}

// Activate は現行バージョン以外のキャッシュをすべて削除する。
// 完了後、ストレージには現行バージョンのエントリのみが残る。
// 個別バージョンの削除失敗は記録した上で残りの削除を継続する。
func (m *Manager) Activate(ctx context.Context) error {
	versions, err := m.store.Versions(ctx)
	if err != nil {
		return fmt.Errorf("バージョン一覧の取得に失敗しました: %w", err)
	}

	var errs []error
	deleted := 0
	for _, v := range versions {
		if v == m.version {
			continue
		}
		if err := m.store.DeleteVersion(ctx, v); err != nil {
			m.logger.Error("旧バージョンの削除に失敗しました",
				slog.String("version", v),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("旧バージョンのキャッシュを削除しました",
			slog.String("version", v),
		)
		deleted++
	}

	if len(errs) > 0 {
		return fmt.Errorf("旧バージョンの掃除に失敗しました: %w", errors.Join(errs...))
	}

	m.logger.Info("キャッシュのアクティベーションが完了しました",
		slog.String("current_version", m.version),
		slog.Int("deleted_versions", deleted),
	)
	return nil
}
