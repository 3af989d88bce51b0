package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/lox/elyos/internal/htmlutil"
	"github.com/lox/elyos/internal/models"
)

// CountryFetcher scrapes every wikitable of the wine-producing countries page.
type CountryFetcher struct {
	httpSource
	pageURL string
}

// NewCountryFetcher expects a client that sends a browser User-Agent;
// Wikipedia answers 403 to bare clients.
func NewCountryFetcher(client *http.Client, pageURL string) *CountryFetcher {
	return &CountryFetcher{httpSource: newHTTPSource(client), pageURL: pageURL}
}

func (f *CountryFetcher) Name() string { return "countries" }

func (f *CountryFetcher) Fetch(ctx context.Context, dest string) error {
	body, err := f.get(ctx, f.Name(), f.pageURL)
	if err != nil {
		return err
	}

	rows, err := ParseCountryTables(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no table rows found at %s", ErrFetch, f.pageURL)
	}

	return writeFileAtomic(dest, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"Category_Index", "Raw_Data_1", "Raw_Data_2", "Raw_Data_3"}); err != nil {
			return err
		}
		for _, r := range rows {
			if err := cw.Write([]string{r.Category, r.Raw1, r.Raw2, r.Raw3}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ParseCountryTables extracts rows with at least two data cells from every
// table.wikitable in the document. The category is Table_<n>, 1-based.
func ParseCountryTables(r io.Reader) ([]models.CountryRow, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows []models.CountryRow
	doc.Find("table.wikitable").Each(func(i int, table *goquery.Selection) {
		category := fmt.Sprintf("Table_%d", i+1)
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, htmlutil.CellText(td.Text()))
			})
			if len(cells) < 2 {
				return
			}
			row := models.CountryRow{Category: category, Raw1: cells[0], Raw2: cells[1]}
			if len(cells) > 2 {
				row.Raw3 = cells[2]
			}
			rows = append(rows, row)
		})
	})
	return rows, nil
}
