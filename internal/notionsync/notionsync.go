// Package notionsync pushes margin notes into a Notion database page.
package notionsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
)

// ErrSyncFailed marks upstream Notion failures.
var ErrSyncFailed = errors.New("notion sync failed")

// ErrNotConfigured is returned when no database id is configured.
var ErrNotConfigured = errors.New("notion database not configured")

// Margin is a single voice annotation anchored to highlighted text.
type Margin struct {
	HighlightText  string
	VoiceNote      string
	HighlightStart int
	HighlightEnd   int
}

// Syncer pushes margins for one article into the workspace tool.
type Syncer interface {
	SyncMargins(ctx context.Context, articleTitle string, articleURL string, margins []Margin) (string, error)
}

type pageCreator interface {
	Create(ctx context.Context, request *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// Service implements Syncer against the Notion API.
type Service struct {
	pages      pageCreator
	databaseID notionapi.DatabaseID
}

// NewService builds a Service for the given integration token and database.
func NewService(apiKey string, databaseID string) *Service {
	client := notionapi.NewClient(notionapi.Token(apiKey))
	return &Service{
		pages:      client.Page,
		databaseID: notionapi.DatabaseID(databaseID),
	}
}

// SyncMargins creates one page titled after the article, containing a source
// link followed by a quote/annotation pair per margin. It returns the created
// page URL.
func (service *Service) SyncMargins(ctx context.Context, articleTitle string, articleURL string, margins []Margin) (string, error) {
	if strings.TrimSpace(string(service.databaseID)) == "" {
		return "", ErrNotConfigured
	}

	request := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: service.databaseID,
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Title: []notionapi.RichText{textRichText(articleTitle)},
			},
			"URL": notionapi.URLProperty{URL: articleURL},
		},
		Children: buildChildren(articleURL, margins),
	}

	page, err := service.pages.Create(ctx, request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return page.URL, nil
}

// buildChildren lays out the page body: source link, divider, then a quoted
// highlight and the spoken note for each margin, with dividers between
// margins.
func buildChildren(articleURL string, margins []Margin) []notionapi.Block {
	blocks := make([]notionapi.Block, 0, 2+3*len(margins))

	blocks = append(blocks, &notionapi.ParagraphBlock{
		BasicBlock: basicBlock(notionapi.BlockTypeParagraph),
		Paragraph: notionapi.Paragraph{
			RichText: []notionapi.RichText{
				textRichText("Source: "),
				linkRichText(articleURL, articleURL),
			},
		},
	})
	blocks = append(blocks, dividerBlock())

	for index, margin := range margins {
		blocks = append(blocks, &notionapi.QuoteBlock{
			BasicBlock: basicBlock(notionapi.BlockTypeQuote),
			Quote: notionapi.Quote{
				RichText: []notionapi.RichText{textRichText(margin.HighlightText)},
			},
		})
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: basicBlock(notionapi.BlockTypeParagraph),
			Paragraph: notionapi.Paragraph{
				RichText: []notionapi.RichText{
					boldRichText("💬 "),
					textRichText(margin.VoiceNote),
				},
			},
		})
		if index < len(margins)-1 {
			blocks = append(blocks, dividerBlock())
		}
	}
	return blocks
}

func basicBlock(blockType notionapi.BlockType) notionapi.BasicBlock {
	return notionapi.BasicBlock{
		Object: notionapi.ObjectTypeBlock,
		Type:   blockType,
	}
}

func dividerBlock() *notionapi.DividerBlock {
	return &notionapi.DividerBlock{
		BasicBlock: basicBlock(notionapi.BlockTypeDivider),
		Divider:    notionapi.Divider{},
	}
}

func textRichText(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

func linkRichText(content string, url string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content, Link: &notionapi.Link{Url: url}},
	}
}

func boldRichText(content string) notionapi.RichText {
	richText := textRichText(content)
	richText.Annotations = &notionapi.Annotations{Bold: true}
	return richText
}
