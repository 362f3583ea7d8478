package section

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
)

// fakeFetcher はフィードURLをキーに固定の記事リストを返す。
type fakeFetcher struct {
	itemsByURL map[string][]model.NewsItem
	calls      atomic.Int32
	panicURL   string
}

func (f *fakeFetcher) FetchFeed(_ context.Context, source model.FeedSource) []model.NewsItem {
	f.calls.Add(1)
	if source.URL == f.panicURL {
		panic("fetcher exploded")
	}
	items, ok := f.itemsByURL[source.URL]
	if !ok {
		return []model.NewsItem{}
	}
	return items
}

func newTestAggregator(fetcher FeedFetcher) *Aggregator {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewAggregator(fetcher, logger, metrics.Noop{}, 5)
}

func TestFetchSection_MergesAndSortsByPubDateDesc(t *testing.T) {
	fetcher := &fakeFetcher{itemsByURL: map[string][]model.NewsItem{
		"https://a.example/rss": {
			{Title: "старое", PubDate: "Mon, 01 Jan 2024 10:00:00 +0000"},
			{Title: "новое", PubDate: "Wed, 03 Jan 2024 10:00:00 +0000"},
		},
		"https://b.example/rss": {
			{Title: "среднее", PubDate: "Tue, 02 Jan 2024 10:00:00 +0000"},
		},
	}}

	agg := newTestAggregator(fetcher)
	items, err := agg.FetchSection(context.Background(), model.Section{
		ID: "czech",
		Sources: []model.FeedSource{
			{URL: "https://a.example/rss", Name: "A", Lang: "cs"},
			{URL: "https://b.example/rss", Name: "B", Lang: "cs"},
		},
	})
	if err != nil {
		t.Fatalf("FetchSection がエラーを返した: %v", err)
	}

	want := []string{"новое", "среднее", "старое"}
	if len(items) != len(want) {
		t.Fatalf("記事数 = %d, want %d", len(items), len(want))
	}
	for i, title := range want {
		if items[i].Title != title {
			t.Errorf("items[%d].Title = %q, want %q", i, items[i].Title, title)
		}
	}
}

func TestFetchSection_UnparsablePubDateSinksToEnd(t *testing.T) {
	fetcher := &fakeFetcher{itemsByURL: map[string][]model.NewsItem{
		"https://a.example/rss": {
			{Title: "без даты", PubDate: "не дата"},
			{Title: "с датой", PubDate: "Mon, 01 Jan 2024 10:00:00 +0000"},
		},
	}}

	agg := newTestAggregator(fetcher)
	items, err := agg.FetchSection(context.Background(), model.Section{
		ID:      "czech",
		Sources: []model.FeedSource{{URL: "https://a.example/rss", Name: "A", Lang: "cs"}},
	})
	if err != nil {
		t.Fatalf("FetchSection がエラーを返した: %v", err)
	}

	if items[len(items)-1].Title != "без даты" {
		t.Errorf("パース不能な日時の記事は末尾へ沈むべき: %v", items)
	}
}

func TestFetchSection_AllFeedsEmpty_ReturnsEmptyWithoutError(t *testing.T) {
	fetcher := &fakeFetcher{itemsByURL: map[string][]model.NewsItem{}}

	agg := newTestAggregator(fetcher)
	items, err := agg.FetchSection(context.Background(), model.Section{
		ID: "vaping",
		Sources: []model.FeedSource{
			{URL: "https://x.example/rss", Name: "X", Lang: "en"},
			{URL: "https://y.example/rss", Name: "Y", Lang: "en"},
		},
	})
	if err != nil {
		t.Fatalf("全フィード失敗でもエラーにならないべき: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("記事数 = %d, want 0", len(items))
	}
	if fetcher.calls.Load() != 2 {
		t.Errorf("フェッチ回数 = %d, want 2", fetcher.calls.Load())
	}
}

func TestFetchSection_PanicInFetcher_ReturnsError(t *testing.T) {
	fetcher := &fakeFetcher{
		itemsByURL: map[string][]model.NewsItem{},
		panicURL:   "https://bad.example/rss",
	}

	agg := newTestAggregator(fetcher)
	_, err := agg.FetchSection(context.Background(), model.Section{
		ID:      "czech",
		Sources: []model.FeedSource{{URL: "https://bad.example/rss", Name: "Bad", Lang: "cs"}},
	})
	if err == nil {
		t.Fatal("パニックはセクションエラーとして回収されるべき")
	}
}

func TestFetchSection_CancelledContext_ReturnsError(t *testing.T) {
	fetcher := &fakeFetcher{itemsByURL: map[string][]model.NewsItem{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := newTestAggregator(fetcher)
	_, err := agg.FetchSection(ctx, model.Section{
		ID:      "czech",
		Sources: []model.FeedSource{{URL: "https://a.example/rss", Name: "A", Lang: "cs"}},
	})
	if err == nil {
		t.Fatal("キャンセル済みコンテキストではエラーを返すべき")
	}
}

func TestParsePubDate_Layouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Mon, 02 Jan 2006 15:04:05 +0000", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"Mon, 02 Jan 2006 15:04:05 GMT", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"2006-01-02T15:04:05Z", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"2006-01-02", time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"", time.Unix(0, 0).UTC()},
		{"вчера", time.Unix(0, 0).UTC()},
	}

	for _, tt := range tests {
		got := parsePubDate(tt.in)
		if !got.Equal(tt.want) {
			t.Errorf("parsePubDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
