package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

const (
	registerRowSelector     = "div.table-responsive tr"
	descriptionLinkSelector = "div.description a[href]"
)

// ErrOddRowCount means the register table does not consist of main/details
// row pairs, so no row on that page can be trusted.
var ErrOddRowCount = errors.New("unexpected number of rows in register table")

// ParishPage extracts the register listing of a parish page.
//
// A page without a register table yields exactly one EmptyParish or
// PlaceholderParish. Otherwise it yields one ParishRegisterMetadata per
// complete table entry.
func ParishPage(doc *goquery.Document, pageURL *url.URL, logger *zap.Logger) ([]record.Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rows := doc.Find(registerRowSelector)
	if rows.Length() == 0 {
		return []record.Record{emptyParish(doc, pageURL, logger)}, nil
	}

	registers, err := RegisterRows(rows.Slice(1, goquery.ToEnd), pageURL, logger)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(registers))
	for _, r := range registers {
		out = append(out, r)
	}
	return out, nil
}

func emptyParish(doc *goquery.Document, pageURL *url.URL, logger *zap.Logger) record.Record {
	seen := make(map[string]struct{})
	var refs []string
	doc.Find(descriptionLinkSelector).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		refs = append(refs, href)
	})
	if len(refs) == 0 {
		logger.Debug("No registers found", zap.Stringer("url", pageURL))
		return record.EmptyParish{URL: pageURL.String()}
	}
	logger.Debug("External references found", zap.Stringer("url", pageURL), zap.Strings("references", refs))
	return record.PlaceholderParish{URL: pageURL.String(), References: refs}
}

// RegisterRows decodes table rows (header already removed). Each entry spans
// two adjacent rows: the main row and its expandable details row. Entries
// missing a required main-row field are logged and skipped.
func RegisterRows(rows *goquery.Selection, pageURL *url.URL, logger *zap.Logger) ([]record.ParishRegisterMetadata, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := rows.Length()
	if n%2 != 0 {
		return nil, fmt.Errorf("%w: %d rows on %s", ErrOddRowCount, n, pageURL)
	}

	out := make([]record.ParishRegisterMetadata, 0, n/2)
	for i := 0; i < n; i += 2 {
		main := rows.Eq(i)
		detailsRow := rows.Eq(i + 1)

		entry := record.ParishRegisterMetadata{
			Name:            text(main.Find("td:nth-child(3)").First()),
			URL:             absolute(pageURL, main.Find("td:nth-child(1) a:nth-child(1)").First().AttrOr("href", "")),
			AccessionNumber: text(main.Find("td:nth-child(2)").First()),
			Date:            text(main.Find("td:nth-child(4)").First()),
			Details:         details(detailsRow),
		}
		if missing := missingField(entry); missing != "" {
			log := logger.Error
			if missing == "name" {
				log = logger.Warn
			}
			log("Skipping register entry",
				zap.String("missing", missing),
				zap.Stringer("page", pageURL),
				zap.Int("row", i+1),
			)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func missingField(e record.ParishRegisterMetadata) string {
	switch {
	case e.Name == "":
		return "name"
	case e.URL == "":
		return "url"
	case e.AccessionNumber == "":
		return "accession_number"
	case e.Date == "":
		return "date"
	}
	return ""
}

// details pairs the <dt>/<dd> elements of a details row in order.
func details(row *goquery.Selection) record.Details {
	keys := row.Find("td dl dt")
	values := row.Find("td dl dd")
	n := min(keys.Length(), values.Length())
	out := make(record.Details, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, record.Detail{
			Key:   NormalizeDetailKey(keys.Eq(i).Text()),
			Value: text(values.Eq(i)),
		})
	}
	return out
}

// NormalizeDetailKey lower-cases a details label and joins words with
// underscores: "Date Range" -> "date_range".
func NormalizeDetailKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
}
