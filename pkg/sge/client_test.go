package sge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/sgetiers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okTechnical = `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<ns2:consulterDonneesTechniquesContractuellesResponse xmlns:ns2="urn:x"><point id="1"/></ns2:consulterDonneesTechniquesContractuellesResponse>
</soap:Body></soap:Envelope>`

func fault(code, msg string) string {
	return `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<soap:Fault><faultcode>soap:Server</faultcode><faultstring>` + msg + `</faultstring>
<detail><erreur><resultat code="` + code + `">` + msg + `</resultat></erreur></detail></soap:Fault>
</soap:Body></soap:Envelope>`
}

type captured struct {
	path   string
	action string
	body   string
}

func newTestClient(t *testing.T, status int, resp string) (*Client, *captured) {
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.path = r.URL.Path
		c.action = r.Header.Get("SOAPAction")
		c.body = string(b)
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/base", srv.Client(), nil), c
}

func TestInvokeTechnical(t *testing.T) {
	client, c := newTestClient(t, http.StatusOK, okTechnical)
	inv, err := client.Configure(types.CommandServiceTechnical)
	require.NoError(t, err)

	body, err := inv.Invoke(context.Background(), Params{Login: "me@example.com", PRM: "30001234567890", Authorization: true})
	require.NoError(t, err)
	assert.Equal(t, okTechnical, string(body))

	assert.Equal(t, "/base/ConsultationDonneesTechniquesContractuelles/v1.0", c.path)
	assert.Equal(t, "consulterDonneesTechniquesContractuelles", c.action)
	assert.Contains(t, c.body, "<pointId>30001234567890</pointId>")
	assert.Contains(t, c.body, "<loginUtilisateur>me@example.com</loginUtilisateur>")
	assert.Contains(t, c.body, "<autorisationClient>true</autorisationClient>")
	assert.NotContains(t, c.body, "dateDebut")
}

func TestInvokeDetailsV3(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 6)

	t.Run("Authorized", func(t *testing.T) {
		client, c := newTestClient(t, http.StatusOK, "<ok/>")
		inv, err := client.Configure(types.CommandServiceLoadCurvePA)
		require.NoError(t, err)
		_, err = inv.Invoke(context.Background(), Params{Login: "me", PRM: "1", Authorization: true, From: from, To: to})
		require.NoError(t, err)

		assert.Equal(t, "/base/ConsultationMesuresDetaillees/v3.0", c.path)
		assert.Contains(t, c.body, "<mesuresTypeCode>COURBE</mesuresTypeCode>")
		assert.Contains(t, c.body, "<grandeurPhysique>PA</grandeurPhysique>")
		assert.Contains(t, c.body, "<dateDebut>2024-03-01</dateDebut>")
		assert.Contains(t, c.body, "<dateFin>2024-03-07</dateFin>")
		assert.Contains(t, c.body, "<mesuresCorrigees>false</mesuresCorrigees>")
		assert.Contains(t, c.body, "<cadreAcces>ACCORD_CLIENT</cadreAcces>")
	})

	t.Run("NotAuthorized", func(t *testing.T) {
		client, c := newTestClient(t, http.StatusOK, "<ok/>")
		inv, err := client.Configure(types.CommandServiceIndexHC)
		require.NoError(t, err)
		_, err = inv.Invoke(context.Background(), Params{Login: "me", PRM: "1", From: from, To: to})
		require.NoError(t, err)

		assert.Contains(t, c.body, "<mesuresTypeCode>INDEX</mesuresTypeCode>")
		assert.Contains(t, c.body, "<grandeurPhysique>HC</grandeurPhysique>")
		assert.NotContains(t, c.body, "cadreAcces")
	})
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		code   string
	}{
		{"Functional", http.StatusInternalServerError, fault("SGT401", "Demande non recevable"), KindFunctional, "SGT401"},
		{"Fatal", http.StatusInternalServerError, fault("SGT589", "Quota atteint"), KindFatal, "SGT589"},
		{"TechnicalRetry", http.StatusInternalServerError, fault("SGT500", "Erreur technique"), KindTransient, "SGT500"},
		{"FaultWithOK", http.StatusOK, fault("SGT4G3", "Pas de mesures"), KindFunctional, "SGT4G3"},
		{"NoCode", http.StatusBadGateway, "bad gateway", KindTransient, ""},
		{"Unparseable", http.StatusInternalServerError, "<<garbage SGT589", KindFatal, "SGT589"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.status, tt.body)
			inv, err := client.Configure(types.CommandServiceEnergyEA)
			require.NoError(t, err)
			_, err = inv.Invoke(context.Background(), Params{})
			require.Error(t, err)

			var sgeErr *Error
			require.True(t, errors.As(err, &sgeErr))
			assert.Equal(t, tt.kind, sgeErr.Kind)
			assert.Equal(t, tt.code, sgeErr.Code)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestFaultMessage(t *testing.T) {
	assert.Equal(t, "Quota atteint", faultMessage([]byte(fault("SGT589", "Quota atteint"))))
	assert.Equal(t, "plain text", faultMessage([]byte("  plain text ")))
	assert.Len(t, faultMessage([]byte(strings.Repeat("x", 2000))), maxMessageSize)
}

func TestConfigureUnknown(t *testing.T) {
	client := NewClient("http://localhost", http.DefaultClient, nil)
	_, err := client.Configure("detailsV2")
	var unknown types.UnknownCommandServiceError
	assert.ErrorAs(t, err, &unknown)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("connection reset")))
	assert.Equal(t, KindFatal, KindOf(fmtWrap(&Error{Kind: KindFatal})))
	assert.Equal(t, "functional", KindFunctional.String())
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}

func TestParamsCadre(t *testing.T) {
	assert.Equal(t, "ACCORD_CLIENT", Params{Authorization: true}.Cadre())
	assert.Equal(t, "", Params{}.Cadre())
}

func TestInvokeCanceled(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, "<ok/>")
	inv, err := client.Configure(types.CommandServiceTechnical)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inv.Invoke(ctx, Params{})
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))
}
