package telegram

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// The two structural markers the preview contract depends on. Telegram renders
// no title block for nonexistent or private entities, which is the sole
// validity signal.
const (
	titleSelector = "div.tgme_page_title"
	extraSelector = "div.tgme_page_extra"
)

// parsePreview fills the title and member-info fields from the fetched body.
func parsePreview(p *check.Preview) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}

	if sel := doc.Find(titleSelector).First(); sel.Length() > 0 {
		p.TitleFound = true
		p.Title = strings.TrimSpace(sel.Text())
	}
	if sel := doc.Find(extraSelector).First(); sel.Length() > 0 {
		p.Extra = strings.TrimSpace(sel.Text())
	}
	return nil
}
