package relay

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquiryrelay/pkg/tgtext"
)

var fixedAt = time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)

func TestFormatIsDeterministic(t *testing.T) {
	f := NewFormatter(FormatConfig{Brand: "Acme"})
	a, err := f.Format(Structured(janeDoe()), fixedAt)
	require.NoError(t, err)
	b, err := f.Format(Structured(janeDoe()), fixedAt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFormatBrandWithMarkdownDelimiters(t *testing.T) {
	f := NewFormatter(FormatConfig{Brand: "Acme_Co*"})
	text, err := f.Format(Structured(janeDoe()), fixedAt)
	require.NoError(t, err)
	assert.Contains(t, text, "*NEW SERVICE INQUIRY - ACMECO*")
	assert.Contains(t, text, "_Powered by AcmeCo_")
	assert.Contains(t, f.ConnectionTest(fixedAt), "*Connection Test - AcmeCo*")
}

func TestFormatInquiryLayout(t *testing.T) {
	tunis, err := time.LoadLocation("Africa/Tunis")
	require.NoError(t, err)
	f := NewFormatter(FormatConfig{
		Brand:            "Acme",
		Location:         tunis,
		PriorityServices: []string{"Digital Marketing"},
	})

	rec := janeDoe()
	rec.Company = "Doe Ltd"
	rec.Service = "digital marketing"
	out, err := f.Format(Structured(rec), fixedAt)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "🚀 *NEW SERVICE INQUIRY - ACME*"))
	assert.Contains(t, out, "• Name: Jane Doe")
	assert.Contains(t, out, "• Email: jane@x.com")
	assert.Contains(t, out, "• Company: Doe Ltd")
	assert.NotContains(t, out, "• Phone:")
	assert.NotContains(t, out, "• Budget:")
	assert.NotContains(t, out, "• Timeline:")
	assert.Contains(t, out, "• Source: Website Contact Form")
	assert.Contains(t, out, "• Priority: High")
	assert.Contains(t, out, "• Status: New Inquiry")
	assert.Contains(t, out, "Friday, 14 March 2025 at 10:26 CET")
	assert.True(t, strings.HasSuffix(out, "_Powered by Acme_"))
}

func TestFormatNormalPriority(t *testing.T) {
	f := NewFormatter(FormatConfig{PriorityServices: []string{"Digital Marketing"}})
	out, err := f.Format(Structured(janeDoe()), fixedAt)
	require.NoError(t, err)
	assert.Contains(t, out, "• Priority: Normal")
}

func TestFormatEscapesUserFields(t *testing.T) {
	rec := janeDoe()
	rec.Name = "*bold* _it_ [x](y) `c`"
	rec.Message = "<script>alert(1)</script> & more"

	md := NewFormatter(FormatConfig{Mode: tgtext.ModeMarkdown})
	out, err := md.Format(Structured(rec), fixedAt)
	require.NoError(t, err)
	assert.Contains(t, out, `• Name: \*bold\* \_it\_ \[x](y) \`+"`c\\`")

	html := NewFormatter(FormatConfig{Mode: tgtext.ModeHTML})
	out, err = html.Format(Structured(rec), fixedAt)
	require.NoError(t, err)
	assert.Contains(t, out, "&lt;script&gt;alert(1)&lt;/script&gt; &amp; more")
	assert.Contains(t, out, "<b>Client Information:</b>")
	assert.NotContains(t, out, "<script>")
}

func TestFormatPlainAndRaw(t *testing.T) {
	f := NewFormatter(FormatConfig{Mode: tgtext.ModeHTML})

	out, err := f.Format(Plain("a < b"), fixedAt)
	require.NoError(t, err)
	assert.Equal(t, "a &lt; b", out)

	out, err = f.Format(Raw("<b>trusted</b>"), fixedAt)
	require.NoError(t, err)
	assert.Equal(t, "<b>trusted</b>", out)

	_, err = f.Format(Raw("   "), fixedAt)
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = f.Format(Payload{}, fixedAt)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestFormatSizeLimitCountsRunes(t *testing.T) {
	f := NewFormatter(FormatConfig{MaxLen: 10})

	_, err := f.Format(Raw(strings.Repeat("ж", 10)), fixedAt)
	assert.NoError(t, err)

	_, err = f.Format(Raw(strings.Repeat("ж", 11)), fixedAt)
	assert.Equal(t, KindMessageTooLong, KindOf(err))
}

func TestConnectionTest(t *testing.T) {
	f := NewFormatter(FormatConfig{Mode: tgtext.ModeHTML, Brand: "A&B"})
	out := f.ConnectionTest(fixedAt)
	assert.True(t, strings.HasPrefix(out, "🔧 <b>Connection Test - A&amp;B</b>"))
	assert.Contains(t, out, "Testing Telegram integration...")
}
