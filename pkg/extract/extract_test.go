package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const technicalPayload = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ns2:consulterDonneesTechniquesContractuellesResponse xmlns:ns2="http://www.enedis.fr/sge/b2b/services/consulterdonneestechniquescontractuelles/v1.0">
      <point id="30001234567890">
        <donneesGenerales>
          <adresseInstallation>
            <codePostal>64000</codePostal>
            <commune><libelle>PAU</libelle></commune>
          </adresseInstallation>
        </donneesGenerales>
        <situationComptage>
          <dispositifComptage>
            <compteurs>
              <compteur><matricule>A1</matricule></compteur>
              <compteur><matricule>B2</matricule></compteur>
            </compteurs>
          </dispositifComptage>
        </situationComptage>
      </point>
    </ns2:consulterDonneesTechniquesContractuellesResponse>
  </soap:Body>
</soap:Envelope>`

const seriesPayload = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope>
  <Body>
    <consulterMesuresDetailleesV3Response>
      <grandeur>
        <points><d>2024-03-01T00:30:00</d><v>100</v></points>
        <points><d>2024-03-01T01:00:00</d><v>100</v><v>105</v></points>
        <points><v>7</v></points>
        <points><d>2024-03-01T01:30:00</d></points>
        <points><d>2024-03-01T02:00:00</d><d>2024-03-01T02:30:00</d><v>12</v></points>
      </grandeur>
      <calendrier>
        <classeTemporelle><idClasseTemporelle>HC</idClasseTemporelle><valeur><d>2024-03-01</d><v>1200</v></valeur></classeTemporelle>
        <classeTemporelle><idClasseTemporelle>HP</idClasseTemporelle><valeur><d>2024-03-01</d><v>3400</v></valeur></classeTemporelle>
      </calendrier>
    </consulterMesuresDetailleesV3Response>
  </Body>
</Envelope>`

func TestParse(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)

	_, err = Parse([]byte("   "))
	assert.Error(t, err)

	_, err = Parse([]byte("<a><b></a>"))
	assert.Error(t, err)

	root, err := Parse([]byte(technicalPayload))
	require.NoError(t, err)
	assert.NotNil(t, root)
}

func TestScalar(t *testing.T) {
	ctx := context.Background()
	root, err := Parse([]byte(technicalPayload))
	require.NoError(t, err)

	t.Run("SingleMatch", func(t *testing.T) {
		v, ok := Scalar(ctx, root, ".//donneesGenerales/adresseInstallation/commune/libelle")
		require.True(t, ok)
		assert.Equal(t, "PAU", v)
	})

	t.Run("NoMatch", func(t *testing.T) {
		v, ok := Scalar(ctx, root, ".//donneesGenerales/adresseInstallation/batiment")
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("MultipleMatchesUsesFirst", func(t *testing.T) {
		v, ok := Scalar(ctx, root, ".//situationComptage/dispositifComptage/compteurs/compteur/matricule")
		require.True(t, ok)
		assert.Equal(t, "A1", v)
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		_, ok := Scalar(ctx, root, ".//[[")
		assert.False(t, ok)
	})
}

func TestSeries(t *testing.T) {
	ctx := context.Background()
	root, err := Parse([]byte(seriesPayload))
	require.NoError(t, err)

	t.Run("Points", func(t *testing.T) {
		points := Series(ctx, root, ".//grandeur/points")
		assert.Equal(t, []RawPoint{
			{Date: "2024-03-01T00:30:00", Value: "100"},
			// two v children: the first one is used
			{Date: "2024-03-01T01:00:00", Value: "100"},
			// nodes without d or without v are skipped
			{Date: "2024-03-01T02:00:00", Value: "12"},
		}, points)
	})

	t.Run("Predicate", func(t *testing.T) {
		points := Series(ctx, root, ".//calendrier/classeTemporelle[idClasseTemporelle='HP']/valeur")
		assert.Equal(t, []RawPoint{{Date: "2024-03-01", Value: "3400"}}, points)
	})

	t.Run("Absent", func(t *testing.T) {
		assert.Empty(t, Series(ctx, root, ".//nothing/here"))
	})
}
