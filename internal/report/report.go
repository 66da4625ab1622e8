// Package report renders run summaries and metric history as terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

// Summary writes the outcome counts, then one row per failed target.
func Summary(w io.Writer, s runner.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Run %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	t.AppendHeader(table.Row{"Outcome", "Count"})

	t.AppendRow(table.Row{scraper.KindSuccess, s.Success})
	t.AppendRow(table.Row{scraper.KindDegradedZeroPrice, s.Degraded})
	for _, reason := range scraper.Reasons {
		t.AppendRow(table.Row{reason, s.Failures[reason]})
	}
	if s.Skipped > 0 {
		t.AppendRow(table.Row{"skipped", s.Skipped})
	}
	t.AppendFooter(table.Row{"total", s.Total})

	t.SetStyle(table.StyleRounded)
	t.Render()

	if s.Failed() == 0 {
		return
	}

	f := table.NewWriter()
	f.SetOutputMirror(w)
	f.AppendHeader(table.Row{"URL", "Reason", "Error"})
	for _, r := range s.Results {
		if r.Kind != scraper.KindFailure {
			continue
		}
		f.AppendRow(table.Row{r.URL, r.Reason, r.Error})
	}
	f.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 80}})
	f.SetStyle(table.StyleRounded)
	f.Render()

	if s.Aborted {
		fmt.Fprintln(w, "run aborted: store unavailable")
	}
}

// History writes metric rows newest first.
func History(w io.Writer, p *database.Product, metrics []database.DailyMetric) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if p != nil {
		t.SetTitle("%s", productTitle(p))
	}
	t.AppendHeader(table.Row{"Recorded", "Price", "List", "Discount", "Rating", "Reviews", "Favorites", "Cart", "Views", "Rank", "Method", "State"})

	for _, m := range metrics {
		t.AppendRow(table.Row{
			m.RecordedAt.Format("2006-01-02 15:04"),
			money(m.DiscountedPrice),
			money(m.ListPrice),
			percent(m.DiscountRate),
			decimal(m.AvgRating),
			count(m.RatingCount),
			count(m.FavoriteCount),
			count(m.CartCount),
			count(m.ViewCount),
			rank(m.SalesRank),
			m.ExtractionMethod,
			m.PriceState,
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

func productTitle(p *database.Product) string {
	title := p.URL
	if p.Name != nil {
		title = *p.Name
		if p.Brand != nil {
			title = *p.Brand + " " + title
		}
	}
	return fmt.Sprintf("#%d %s", p.ID, title)
}

const absent = "-"

func money(v *float64) string {
	if v == nil {
		return absent
	}
	return strconv.FormatFloat(*v, 'f', 2, 64) + " TL"
}

func percent(v *float64) string {
	if v == nil {
		return absent
	}
	return strconv.FormatFloat(*v*100, 'f', 1, 64) + "%"
}

func decimal(v *float64) string {
	if v == nil {
		return absent
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func count(v *int64) string {
	if v == nil {
		return absent
	}
	return strconv.FormatInt(*v, 10)
}

func rank(v *int) string {
	if v == nil {
		return absent
	}
	return strconv.Itoa(*v)
}
