package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// HTMLSource fetches an investing-calendar-shaped HTML page and parses its
// event table rows into Events. The impact-star detector tolerates
// class-name drift by falling back to inference from cell text, mirroring
// the original Python scraper's defensiveness around site markup changes.
type HTMLSource struct {
	BaseURL    string
	HTTPClient *http.Client
	Location   *time.Location // zone the page's "time_local" column is in
}

// NewHTMLSource builds a source pointed at baseURL, parsing row times in loc.
func NewHTMLSource(baseURL string, loc *time.Location) *HTMLSource {
	return &HTMLSource{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Location:   loc,
	}
}

func (s *HTMLSource) Events(ctx context.Context, year int, month time.Month, currencies []string) ([]Event, error) {
	url := fmt.Sprintf("%s?month=%02d&year=%d", s.BaseURL, int(month), year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: building request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; crtbot/1.0)")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetching calendar page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("calendar: reading response: %w", err)
	}
	return parseCalendarRows(string(body), s.Location, year, month)
}

// row is the logical per-row contract the spec names: time_local, currency,
// title, impact_stars, is_holiday, and optional actual/forecast/previous.
type row struct {
	rowClass   string
	timeLocal  string
	currency   string
	title      string
	impactTxt  string
	holidayTxt string
}

// parseCalendarRows walks the document's <tr> rows. Rows marked as a day
// separator (class containing "theDay") update the running day-of-month;
// ordinary event rows inherit it, since the source carries time-of-day only
// per event row and groups rows under a date header.
func parseCalendarRows(document string, loc *time.Location, year int, month time.Month) ([]Event, error) {
	tokenizer := html.NewTokenizer(strings.NewReader(document))

	var events []Event
	var current row
	var inRow, inCell bool
	var cellClass string
	var textBuf strings.Builder
	day := 1

	flushCell := func() {
		text := strings.TrimSpace(textBuf.String())
		textBuf.Reset()
		switch {
		case strings.Contains(cellClass, "time"):
			current.timeLocal = text
		case strings.Contains(cellClass, "flagCur") || strings.Contains(cellClass, "currency"):
			current.currency = text
		case strings.Contains(cellClass, "event") || strings.Contains(cellClass, "title"):
			current.title = text
		case strings.Contains(cellClass, "sentiment") || strings.Contains(cellClass, "impact"):
			current.impactTxt = text
		}
		if strings.Contains(strings.ToLower(text), "holiday") {
			current.holidayTxt = text
		}
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return events, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			switch tok.Data {
			case "tr":
				inRow = true
				current = row{rowClass: attr(tok, "class")}
			case "td":
				inCell = true
				cellClass = attr(tok, "class")
			}
		case html.TextToken:
			text := tokenizer.Token().Data
			if inRow && inCell {
				textBuf.WriteString(text)
			}
			if inRow && strings.Contains(current.rowClass, "theDay") {
				if d := dayFromHeader(text); d > 0 {
					day = d
				}
			}
		case html.EndTagToken:
			tok := tokenizer.Token()
			switch tok.Data {
			case "td":
				if inRow {
					flushCell()
				}
				inCell = false
			case "tr":
				if ev, ok := toEvent(current, loc, year, month, day); ok {
					events = append(events, ev)
				}
				inRow = false
			}
		}
	}
}

// dayFromHeader extracts a leading day-of-month number from a date-header
// row's text, e.g. "Tuesday, August 4, 2026" -> 4. Returns 0 if none found.
func dayFromHeader(text string) int {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' '
	})
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil && n >= 1 && n <= 31 {
			return n
		}
	}
	return 0
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func toEvent(r row, loc *time.Location, year int, month time.Month, day int) (Event, bool) {
	if r.timeLocal == "" || r.currency == "" {
		return Event{}, false
	}
	t, err := parseRowTime(r.timeLocal, loc, year, month, day)
	if err != nil {
		return Event{}, false
	}
	isHoliday := r.holidayTxt != ""
	impact := inferImpact(r.impactTxt, isHoliday)
	return Event{
		Time:      t.UTC(),
		Currency:  strings.ToUpper(strings.TrimSpace(r.currency)),
		Title:     r.title,
		Impact:    impact,
		IsHoliday: isHoliday,
	}, true
}

func parseRowTime(value string, loc *time.Location, year int, month time.Month, day int) (time.Time, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("unrecognized time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	minuteDigits := strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, parts[1])
	minute, err := strconv.Atoi(minuteDigits)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc), nil
}

// inferImpact tolerates class-name drift: it first looks for the words
// "high", "medium"/"moderate" or "low" in the impact text, then falls back to
// counting filled-star glyphs, matching the Python scraper's layered fallback.
func inferImpact(impactTxt string, isHoliday bool) int {
	if isHoliday {
		return 0
	}
	lower := strings.ToLower(impactTxt)
	switch {
	case strings.Contains(lower, "high"):
		return 3
	case strings.Contains(lower, "medium") || strings.Contains(lower, "moderate"):
		return 2
	case strings.Contains(lower, "low"):
		return 1
	}
	stars := strings.Count(impactTxt, "★") // ★
	if stars > 0 {
		if stars > 3 {
			stars = 3
		}
		return stars
	}
	return 0
}
