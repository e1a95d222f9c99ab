package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/model"
)

const aboutPage = `<html><body>
<nav>Home</nav>
<section class="artdeco-card org-page-details-module__card-spacing">
<h2>Overview</h2>
<dl>
<dt><h3>Website</h3></dt>
<dd><a href="https://www.magna-real-estate.com">magna-real-estate.com</a></dd>
<dt><h3>Phone</h3></dt>
<dd><a href="tel:+49 40 238311200">+49 40 238311200</a></dd>
<dt><h3>Industry</h3></dt>
<dd>Real Estate</dd>
<dt><h3>Company size</h3></dt>
<dd>51-200 employees</dd>
<dt><h3>Founded</h3></dt>
<dd>2016</dd>
</dl>
</section>
</body></html>`

func TestLinkedInAbout(t *testing.T) {
	t.Parallel()
	ex, markup, err := LinkedInAbout(aboutPage)
	require.NoError(t, err)

	assert.Equal(t, "https://www.magna-real-estate.com", ex.Fields[model.FieldWebsite])
	assert.Equal(t, "+49 40 238311200", ex.Fields[model.FieldTelefonnummer])
	assert.Equal(t, int64(200), ex.Fields[model.FieldMitarbeiter])
	assert.Equal(t, "Real Estate", ex.Extras["industry"])
	assert.Equal(t, "2016", ex.Extras["founded"])
	assert.Contains(t, markup, "org-page-details-module__card-spacing")
	assert.NotContains(t, markup, "<nav>")
}

func TestLinkedInAbout_NoCardFallsBackToBody(t *testing.T) {
	t.Parallel()
	ex, markup, err := LinkedInAbout(`<html><body><dl><dt>Company size</dt><dd>2-10 employees</dd></dl></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ex.Fields[model.FieldMitarbeiter])
	assert.Contains(t, markup, "<dl>")
}

func TestLargestCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"51-200 employees", 200, true},
		{"10,001+ employees", 10001, true},
		{"1 employee", 1, true},
		{"Self-employed", 0, false},
	}
	for _, tt := range tests {
		got, ok := largestCount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
