// Package model はドメインモデルを定義する。
package model

// FeedSource は1つのRSS/Atomフィードの静的な定義を表す。
// セクション設定ファイルから読み込まれ、プロセスの生存期間中は不変。
type FeedSource struct {
	// URL はフィード本体のURL。
	URL string `yaml:"url" json:"url"`
	// Name は表示用のソース名。
	Name string `yaml:"name" json:"name"`
	// Lang はフィードの言語コード（ISO 639-1）。
	// ターゲット言語と異なる場合、記事は機械翻訳の対象になる。
	Lang string `yaml:"lang" json:"lang"`
}

// Section はニュースカテゴリを表す。
// 各セクションは自身のフィードリストを所有し、他セクションから独立している。
type Section struct {
	// ID はセクション識別子（例: czech, estonia, vaping）。
	// キャッシュキーおよびAPIパスに使用される。
	ID string `yaml:"id" json:"id"`
	// Title は表示用のセクション名。
	Title string `yaml:"title" json:"title"`
	// Sources はセクションが所有するフィードの順序付きリスト。
	Sources []FeedSource `yaml:"sources" json:"sources"`
}
