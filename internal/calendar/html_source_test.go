package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalendarRows_ParsesDayHeaderAndEventRows(t *testing.T) {
	doc := `
	<table>
	<tr class="theDay"><td>Thursday, March 5, 2026</td></tr>
	<tr>
		<td class="time">08:30am</td>
		<td class="flagCur">USD</td>
		<td class="event">Non-Farm Payrolls</td>
		<td class="impact">High</td>
	</tr>
	<tr>
		<td class="time">02:00pm</td>
		<td class="flagCur">EUR</td>
		<td class="event">Bank Holiday</td>
		<td class="impact"></td>
	</tr>
	</table>`

	events, err := parseCalendarRows(doc, time.UTC, 2026, time.March)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "USD", events[0].Currency)
	assert.Equal(t, "Non-Farm Payrolls", events[0].Title)
	assert.Equal(t, 3, events[0].Impact)
	assert.False(t, events[0].IsHoliday)
	assert.Equal(t, 5, events[0].Time.Day())
	assert.Equal(t, 8, events[0].Time.Hour())
	assert.Equal(t, 30, events[0].Time.Minute())

	assert.Equal(t, "EUR", events[1].Currency)
}

func TestParseCalendarRows_SkipsRowsMissingTimeOrCurrency(t *testing.T) {
	doc := `<table><tr><td class="event">No time or currency</td></tr></table>`
	events, err := parseCalendarRows(doc, time.UTC, 2026, time.March)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInferImpact_PrefersTextThenStars(t *testing.T) {
	assert.Equal(t, 3, inferImpact("High Impact Expected", false))
	assert.Equal(t, 2, inferImpact("Medium", false))
	assert.Equal(t, 1, inferImpact("Low", false))
	assert.Equal(t, 0, inferImpact("anything", true))
	assert.Equal(t, 2, inferImpact("★★", false))
	assert.Equal(t, 3, inferImpact("★★★★★", false))
}

func TestDayFromHeader_ExtractsLeadingDayNumber(t *testing.T) {
	assert.Equal(t, 4, dayFromHeader("Tuesday, August 4, 2026"))
	assert.Equal(t, 0, dayFromHeader("no digits here"))
}
