package notion

import "strings"

// Page represents one database row: the raw source record for a decision-log
// entry. Only the fields the ingestion pipeline reads are mapped.
type Page struct {
	Object     string              `json:"object"`
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Properties map[string]Property `json:"properties"`
}

// Property represents a page property (simplified for title extraction).
type Property struct {
	Type  string     `json:"type"`
	Title []RichText `json:"title,omitempty"`
}

// Title returns the plain text of the page's title property, or "" when the
// page has no usable title.
func (p *Page) Title() string {
	for _, prop := range p.Properties {
		if prop.Type != "title" {
			continue
		}
		if len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	return ""
}

// Block represents a Notion content block. The API sets exactly one of the
// type-specific payload fields, matching the Type discriminator.
type Block struct {
	Object      string `json:"object"`
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	Paragraph        *TextBlock `json:"paragraph,omitempty"`
	Heading1         *TextBlock `json:"heading_1,omitempty"`
	Heading2         *TextBlock `json:"heading_2,omitempty"`
	Heading3         *TextBlock `json:"heading_3,omitempty"`
	BulletedListItem *TextBlock `json:"bulleted_list_item,omitempty"`
	NumberedListItem *TextBlock `json:"numbered_list_item,omitempty"`
}

// TextBlock represents blocks with rich text content (paragraph, headings, lists).
type TextBlock struct {
	RichText []RichText `json:"rich_text"`
	Color    string     `json:"color,omitempty"`
}

// RichText represents a rich text run.
type RichText struct {
	Type      string `json:"type"`
	PlainText string `json:"plain_text"`
	Href      string `json:"href,omitempty"`
}

// firstNonEmptyText returns the trimmed first rich-text run, or "" when the
// block carries no text.
func (t *TextBlock) firstNonEmptyText() string {
	if t == nil || len(t.RichText) == 0 {
		return ""
	}
	return strings.TrimSpace(t.RichText[0].PlainText)
}

// FirstRun returns the first non-empty text run of the first recognized
// payload, checked in a fixed priority order. Top-level headings and
// unrecognized block types yield ok=false; the block is skipped.
func (b *Block) FirstRun() (text string, ok bool) {
	// Closed set, fixed priority. heading_1 is deliberately absent: page
	// titles already carry that content.
	for _, payload := range []*TextBlock{
		b.Paragraph,
		b.Heading2,
		b.Heading3,
		b.BulletedListItem,
		b.NumberedListItem,
	} {
		if payload == nil {
			continue
		}
		return payload.firstNonEmptyText(), true
	}
	return "", false
}

// DatabaseQueryRequest is the body for the database query endpoint.
type DatabaseQueryRequest struct {
	PageSize    int    `json:"page_size,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
}

// DatabaseQueryResponse is the paginated response from the database query
// endpoint.
type DatabaseQueryResponse struct {
	Object     string `json:"object"`
	Results    []Page `json:"results"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// BlockChildrenResponse is the paginated response from the block children
// endpoint.
type BlockChildrenResponse struct {
	Object     string  `json:"object"`
	Results    []Block `json:"results"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}
