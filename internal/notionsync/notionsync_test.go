package notionsync

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
)

type stubPageCreator struct {
	request *notionapi.PageCreateRequest
	page    *notionapi.Page
	err     error
}

func (stub *stubPageCreator) Create(_ context.Context, request *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	stub.request = request
	if stub.err != nil {
		return nil, stub.err
	}
	return stub.page, nil
}

func sampleMargins() []Margin {
	return []Margin{
		{HighlightText: "the printed text", VoiceNote: "this is the core claim"},
		{HighlightText: "from vellum to paperback", VoiceNote: "check the source on this"},
	}
}

func TestSyncMarginsCreatesDatabasePage(test *testing.T) {
	test.Parallel()
	stub := &stubPageCreator{page: &notionapi.Page{URL: "https://notion.so/abc123"}}
	service := &Service{pages: stub, databaseID: notionapi.DatabaseID("db-1")}

	pageURL, err := service.SyncMargins(context.Background(), "The Quiet Margins", "https://example.com/margins", sampleMargins())
	if err != nil {
		test.Fatalf("sync: %v", err)
	}
	if pageURL != "https://notion.so/abc123" {
		test.Fatalf("unexpected page url %q", pageURL)
	}
	if stub.request == nil {
		test.Fatal("expected a page create request")
	}
	if stub.request.Parent.Type != notionapi.ParentTypeDatabaseID || stub.request.Parent.DatabaseID != "db-1" {
		test.Fatalf("unexpected parent %+v", stub.request.Parent)
	}

	title, ok := stub.request.Properties["Name"].(notionapi.TitleProperty)
	if !ok || len(title.Title) != 1 || title.Title[0].Text.Content != "The Quiet Margins" {
		test.Fatalf("unexpected title property %+v", stub.request.Properties["Name"])
	}
	source, ok := stub.request.Properties["URL"].(notionapi.URLProperty)
	if !ok || source.URL != "https://example.com/margins" {
		test.Fatalf("unexpected url property %+v", stub.request.Properties["URL"])
	}
}

func TestSyncMarginsRequiresDatabase(test *testing.T) {
	test.Parallel()
	service := &Service{pages: &stubPageCreator{}, databaseID: ""}
	if _, err := service.SyncMargins(context.Background(), "t", "u", nil); !errors.Is(err, ErrNotConfigured) {
		test.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSyncMarginsWrapsProviderFailure(test *testing.T) {
	test.Parallel()
	stub := &stubPageCreator{err: errors.New("notion is down")}
	service := &Service{pages: stub, databaseID: notionapi.DatabaseID("db-1")}
	if _, err := service.SyncMargins(context.Background(), "t", "https://example.com", sampleMargins()); !errors.Is(err, ErrSyncFailed) {
		test.Fatalf("expected ErrSyncFailed, got %v", err)
	}
}

func TestBuildChildrenLayout(test *testing.T) {
	test.Parallel()
	blocks := buildChildren("https://example.com/a", sampleMargins())

	// source paragraph, divider, then quote+note per margin with a divider
	// between margins: 2 + 2*3 - 1 = 7.
	if len(blocks) != 7 {
		test.Fatalf("expected 7 blocks, got %d", len(blocks))
	}

	source, ok := blocks[0].(*notionapi.ParagraphBlock)
	if !ok {
		test.Fatalf("expected paragraph first, got %T", blocks[0])
	}
	if len(source.Paragraph.RichText) != 2 || source.Paragraph.RichText[1].Text.Link == nil {
		test.Fatalf("expected a source link paragraph, got %+v", source.Paragraph)
	}
	if source.Paragraph.RichText[1].Text.Link.Url != "https://example.com/a" {
		test.Fatalf("unexpected source link %q", source.Paragraph.RichText[1].Text.Link.Url)
	}
	if _, ok := blocks[1].(*notionapi.DividerBlock); !ok {
		test.Fatalf("expected divider second, got %T", blocks[1])
	}

	firstQuote, ok := blocks[2].(*notionapi.QuoteBlock)
	if !ok || firstQuote.Quote.RichText[0].Text.Content != "the printed text" {
		test.Fatalf("unexpected first quote %+v", blocks[2])
	}
	firstNote, ok := blocks[3].(*notionapi.ParagraphBlock)
	if !ok || len(firstNote.Paragraph.RichText) != 2 {
		test.Fatalf("unexpected first note %+v", blocks[3])
	}
	if firstNote.Paragraph.RichText[0].Annotations == nil || !firstNote.Paragraph.RichText[0].Annotations.Bold {
		test.Fatalf("expected a bold marker on the note, got %+v", firstNote.Paragraph.RichText[0])
	}
	if firstNote.Paragraph.RichText[1].Text.Content != "this is the core claim" {
		test.Fatalf("unexpected note text %q", firstNote.Paragraph.RichText[1].Text.Content)
	}
	if _, ok := blocks[4].(*notionapi.DividerBlock); !ok {
		test.Fatalf("expected divider between margins, got %T", blocks[4])
	}

	secondQuote, ok := blocks[5].(*notionapi.QuoteBlock)
	if !ok || secondQuote.Quote.RichText[0].Text.Content != "from vellum to paperback" {
		test.Fatalf("unexpected second quote %+v", blocks[5])
	}
	if _, ok := blocks[6].(*notionapi.ParagraphBlock); !ok {
		test.Fatalf("expected note last, got %T", blocks[6])
	}
}

func TestBuildChildrenNoMargins(test *testing.T) {
	test.Parallel()
	blocks := buildChildren("https://example.com/a", nil)
	if len(blocks) != 2 {
		test.Fatalf("expected source paragraph and divider only, got %d blocks", len(blocks))
	}
}
