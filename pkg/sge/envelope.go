package sge

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/raterudder/sgetiers/pkg/types"
)

const (
	soapEnvNS      = "http://schemas.xmlsoap.org/soap/envelope/"
	technicalNS    = "http://www.enedis.fr/sge/b2b/services/consulterdonneestechniquescontractuelles/v1.0"
	detailsV3NS    = "http://www.enedis.fr/sge/b2b/consultationmesuresdetaillees/v3.0"
	technicalPath  = "ConsultationDonneesTechniquesContractuelles/v1.0"
	detailsV3Path  = "ConsultationMesuresDetaillees/v3.0"
	technicalCall  = "consulterDonneesTechniquesContractuelles"
	detailsV3Call  = "consulterMesuresDetailleesV3"
	maxMessageSize = 512
)

type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapEnv string   `xml:"xmlns:soapenv,attr"`
	Header  struct{} `xml:"soapenv:Header"`
	Body    envelopeBody
}

type envelopeBody struct {
	XMLName   xml.Name `xml:"soapenv:Body"`
	Technical *technicalRequest
	DetailsV3 *detailsV3Request
}

type technicalRequest struct {
	XMLName            xml.Name `xml:"v1:consulterDonneesTechniquesContractuelles"`
	NS                 string   `xml:"xmlns:v1,attr"`
	PointID            string   `xml:"pointId"`
	LoginUtilisateur   string   `xml:"loginUtilisateur"`
	AutorisationClient bool     `xml:"autorisationClient"`
}

type detailsV3Request struct {
	XMLName xml.Name        `xml:"v3:consulterMesuresDetailleesV3"`
	NS      string          `xml:"xmlns:v3,attr"`
	Demande detailsV3Demand `xml:"demande"`
}

type detailsV3Demand struct {
	InitiateurLogin  string `xml:"initiateurLogin"`
	PointID          string `xml:"pointId"`
	MesuresTypeCode  string `xml:"mesuresTypeCode"`
	GrandeurPhysique string `xml:"grandeurPhysique"`
	DateDebut        string `xml:"dateDebut"`
	DateFin          string `xml:"dateFin"`
	MesuresCorrigees bool   `xml:"mesuresCorrigees"`
	Sens             string `xml:"sens"`
	CadreAcces       string `xml:"cadreAcces,omitempty"`
}

// buildEnvelope renders the SOAP request for the operation.
func buildEnvelope(op types.Operation, p Params) ([]byte, error) {
	env := envelope{SoapEnv: soapEnvNS}
	switch op {
	case types.OperationTechnical:
		env.Body.Technical = &technicalRequest{
			NS:                 technicalNS,
			PointID:            p.PRM,
			LoginUtilisateur:   p.Login,
			AutorisationClient: p.Authorization,
		}
	case types.OperationDetailsV3:
		env.Body.DetailsV3 = &detailsV3Request{
			NS: detailsV3NS,
			Demande: detailsV3Demand{
				InitiateurLogin:  p.Login,
				PointID:          p.PRM,
				MesuresTypeCode:  string(p.MeasureType),
				GrandeurPhysique: p.CurveType,
				DateDebut:        p.From.Format(types.DateLayout),
				DateFin:          p.To.Format(types.DateLayout),
				MesuresCorrigees: p.Corrected,
				Sens:             "SOUTIRAGE",
				CadreAcces:       p.Cadre(),
			},
		}
	default:
		return nil, &Error{Kind: KindFatal, Message: "unsupported operation " + string(op)}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isFault reports whether the body is a SOAP fault.
func isFault(body []byte) bool {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return xmlquery.FindOne(doc, "//*[local-name()='Fault']") != nil
}

// faultMessage returns the fault string of the body, or the start of the body
// when it can't be parsed.
func faultMessage(body []byte) string {
	if doc, err := xmlquery.Parse(bytes.NewReader(body)); err == nil {
		for _, expr := range []string{"//faultstring", "//*[local-name()='libelle']"} {
			if n := xmlquery.FindOne(doc, expr); n != nil {
				if msg := strings.TrimSpace(n.InnerText()); msg != "" {
					return msg
				}
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessageSize {
		msg = msg[:maxMessageSize]
	}
	return msg
}
