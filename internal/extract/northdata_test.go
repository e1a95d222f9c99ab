package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/model"
)

const companyPage = `<!DOCTYPE html>
<html><head>
<title>MAGNA Real Estate GmbH, Hamburg</title>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Organization","name":"MAGNA Real Estate GmbH",
 "foundingDate":"2016-05-17","telephone":"+49 40 238311200","url":"https://www.northdata.de/MAGNA"}
</script>
</head><body>
<main class="ui container">
<div class="anchor content">
<section>
<h1><span class="heading">MAGNA Real Estate GmbH</span></h1>
<p>Amtsgericht Hamburg HRB 182742</p>
<p>Große Elbstr. 61,<br>D-22767 Hamburg</p>
<p>Gegenstand des Unternehmens der Gesellschaft ist der Erwerb und die Verwaltung von Immobilien sowie T&auml;tigkeiten nach § 34c GewO.</p>
<div class="bizq">
<div>Mitarbeiter</div><div>14 Mitarbeiter</div>
<div>Umsatz</div><div>24,1 Mio. €</div>
<div>Jahresfehlbetrag</div><div>2,1 Mio. €</div>
<div>5,3 Mio. €</div><div>Finanzanlagen</div>
</div>
<p>LEI 5299001ABCDEFGHIJK12</p>
<p>Wortmarke: "MAGNA"</p>
<p>Geschäftsführer Martin Göcks</p>
<p>Kontakt: info@magna-re.de, https://www.magna-re.de</p>
<p>Quelle: https://www.northdata.de</p>
</section>
</div>
</main>
</body></html>`

func TestNorthdata(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ex, err := Northdata(companyPage, now)
	require.NoError(t, err)

	f := ex.Fields
	assert.Equal(t, int64(14), f[model.FieldMitarbeiter])
	assert.InDelta(t, 24_100_000.0, f[model.FieldUmsatz], 0.01)
	assert.InDelta(t, -2_100_000.0, f[model.FieldGewinn], 0.01)
	assert.Equal(t, false, f[model.FieldInsolvenz])
	assert.Equal(t, "Hamburg", f[model.FieldHandelsregister])
	assert.Equal(t, "Amtsgericht Hamburg", f[model.FieldGerichtsstand])
	assert.Equal(t, "Große Elbstr. 61, D-22767 Hamburg", f[model.FieldGeschaeftsadresse])
	assert.Equal(t, "der Erwerb und die Verwaltung von Immobilien sowie Tätigkeiten nach § 34c GewO.", f[model.FieldUnternehmenszweck])
	assert.Equal(t, "Deutschland", f[model.FieldLandDesHauptsitzes])
	assert.Equal(t, true, f[model.FieldParagraph34GewO])
	assert.InDelta(t, 5_300_000.0, f[model.FieldGesamtwertImmobilien], 0.01)
	assert.Equal(t, []string{"LEI: 5299001ABCDEFGHIJK12", "Trademark: MAGNA"}, f[model.FieldSonstigeRechte])
	assert.Equal(t, "2016-05-17", f[model.FieldGruendungsdatum])
	assert.Equal(t, "10 Jahre", f[model.FieldAktivSeit])
	assert.Equal(t, "+49 40 238311200", f[model.FieldTelefonnummer])
	assert.Equal(t, "info@magna-re.de", f[model.FieldEmail])
	assert.Equal(t, "https://www.magna-re.de", f[model.FieldWebsite])
	assert.Equal(t, []string{"Martin Göcks"}, f[model.FieldGeschaeftsfuehrer])
	assert.False(t, ex.PremiumOnly())
}

func TestNorthdata_ValuesPassSchemaValidation(t *testing.T) {
	t.Parallel()
	ex, err := Northdata(companyPage, time.Now())
	require.NoError(t, err)
	for f, v := range ex.Fields {
		_, err := f.Validate(v)
		assert.NoError(t, err, f)
	}
}

func TestNorthdata_InsolvencyAndChartFounding(t *testing.T) {
	t.Parallel()
	page := `<html><body><h1>Alt GmbH ✝︎</h1><p>Liquidation</p>
<script>var chart = [{"date" : "2009-02-03", "desc" : "Eintragung"}];</script>
</body></html>`
	ex, err := Northdata(page, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, true, ex.Fields[model.FieldInsolvenz])
	assert.Equal(t, "2009-02-03", ex.Fields[model.FieldGruendungsdatum])
	assert.Equal(t, "15 Jahre", ex.Fields[model.FieldAktivSeit])
}

func TestNorthdata_PremiumPageOmitsFigures(t *testing.T) {
	t.Parallel()
	page := `<html><body><h1>Beta AG</h1><p>Umsatz: nicht öffentlich verfügbar. Premium Service</p></body></html>`
	ex, err := Northdata(page, time.Now())
	require.NoError(t, err)
	assert.True(t, ex.PremiumOnly())
	assert.NotContains(t, ex.Fields, model.FieldUmsatz)
	assert.NotContains(t, ex.Fields, model.FieldGewinn)
	assert.NotContains(t, ex.Fields, model.FieldGeschaeftsadresse)
	assert.NotContains(t, ex.Fields, model.FieldWebsite)
}
