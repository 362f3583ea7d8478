// Package config はアプリケーション設定とセクション定義の読み込みを提供する。
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/newsdesk/internal/model"
)

//go:embed sections.yaml
var defaultSectionsYAML []byte

// sectionsFile はセクション定義YAMLのトップレベル構造。
type sectionsFile struct {
	Sections []model.Section `yaml:"sections"`
}

// LoadSections はセクション定義を読み込む。
// pathが空の場合は埋め込みのデフォルト定義を使用する。
// セクションIDの重複、空のID、フィードを持たないセクションはエラーとする。
func LoadSections(path string) ([]model.Section, error) {
	data := defaultSectionsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read sections file %s: %w", path, err)
		}
		data = b
	}

	var f sectionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sections file: %w", err)
	}

	if len(f.Sections) == 0 {
		return nil, fmt.Errorf("sections file defines no sections")
	}

	seen := make(map[string]bool, len(f.Sections))
	for _, sec := range f.Sections {
		if sec.ID == "" {
			return nil, fmt.Errorf("section with empty id")
		}
		if seen[sec.ID] {
			return nil, fmt.Errorf("duplicate section id: %s", sec.ID)
		}
		seen[sec.ID] = true
		if len(sec.Sources) == 0 {
			return nil, fmt.Errorf("section %s has no feed sources", sec.ID)
		}
		for _, src := range sec.Sources {
			if src.URL == "" {
				return nil, fmt.Errorf("section %s has a feed source with empty url", sec.ID)
			}
		}
	}

	return f.Sections, nil
}
