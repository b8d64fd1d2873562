package catalog

import "github.com/raterudder/sgetiers/pkg/types"

// Entry is a default catalog field before it gets an ID.
type Entry struct {
	Label          string
	CommandService types.CommandService
	PathExpression string
	Unit           types.Unit
}

const (
	installAddress = ".//donneesGenerales/adresseInstallation/"
	supply         = ".//situationAlimentation/alimentationPrincipale/"
	metering       = ".//situationComptage/"
	meterDevice    = ".//situationComptage/dispositifComptage/"
	meter          = ".//situationComptage/dispositifComptage/compteurs/compteur/"
	currentTrans   = ".//situationComptage/dispositifComptage/transformateurCourant/"
)

// Defaults is the catalog seeded on startup. Technical fields are read from
// the contractual technical data, series fields from the detailed
// measurements.
var Defaults = []Entry{
	// donneesGenerales
	{"Code postal", types.CommandServiceTechnical, installAddress + "codePostal", types.UnitNone},
	{"Escalier / Etage / Appartement", types.CommandServiceTechnical, installAddress + "escalierEtEtageEtAppartement", types.UnitNone},
	{"Batiment", types.CommandServiceTechnical, installAddress + "batiment", types.UnitNone},
	{"Numéro / Nom Voie", types.CommandServiceTechnical, installAddress + "numeroEtNomVoie", types.UnitNone},
	{"Lieu dit", types.CommandServiceTechnical, installAddress + "LieuDit", types.UnitNone},
	{"Commune", types.CommandServiceTechnical, installAddress + "commune/libelle", types.UnitNone},
	{"Etat contractuel", types.CommandServiceTechnical, ".//donneesGenerales/etatContractuel/libelle", types.UnitNone},
	{"Date derniere modification formule tarifaire", types.CommandServiceTechnical, ".//donneesGenerales/dateDerniereModificationFormuleTarifaireAcheminement", types.UnitNone},
	{"Date derniere augementation puissance souscrite", types.CommandServiceTechnical, ".//donneesGenerales/dateDerniereAugmentationPuissanceSouscrite", types.UnitNone},
	{"Segment", types.CommandServiceTechnical, ".//donneesGenerales/segment/libelle", types.UnitNone},
	{"Niveau ouverture services", types.CommandServiceTechnical, ".//donneesGenerales/niveauOuvertureServices", types.UnitNone},

	// situationAlimentation
	{"Domaine tension", types.CommandServiceTechnical, supply + "domaineTension/libelle", types.UnitNone},
	{"Tension livraison", types.CommandServiceTechnical, supply + "tensionLivraison/libelle", types.UnitNone},
	{"Puissance de raccordement", types.CommandServiceTechnical, supply + "puissanceRaccordementSoutirage", types.UnitKVA},
	{"Mode après compteur", types.CommandServiceTechnical, supply + "modeApresCompteur/libelle", types.UnitNone},

	// situationComptage
	{"Mode relevé", types.CommandServiceTechnical, metering + "modeReleve/libelle", types.UnitNone},
	{"Media relevé", types.CommandServiceTechnical, metering + "mediaReleve/libelle", types.UnitNone},
	{"futures plages heures creuses", types.CommandServiceTechnical, metering + "futuresPlagesHeuresCreuses/libelle", types.UnitNone},
	{"Type comptage", types.CommandServiceTechnical, meterDevice + "typeComptage/libelle", types.UnitNone},
	{"Localisation compteur", types.CommandServiceTechnical, meter + "localisation/libelle", types.UnitNone},
	{"Matricule compteur", types.CommandServiceTechnical, meter + "matricule", types.UnitNone},
	{"TIC activée compteur", types.CommandServiceTechnical, meter + "ticActivee", types.UnitNone},
	{"TIC standard compteur", types.CommandServiceTechnical, meter + "ticStandard", types.UnitNone},
	{"TIC activable compteur", types.CommandServiceTechnical, meter + "ticActivable", types.UnitNone},
	{"Plage heures creuses compteur", types.CommandServiceTechnical, meter + "plagesHeuresCreuses", types.UnitNone},
	{"Numéro téléphone téléaccès compteur", types.CommandServiceTechnical, meter + "parametresTeleAcces/numeroTelephone", types.UnitNone},
	{"Voie aiguillage téléaccès compteur", types.CommandServiceTechnical, meter + "parametresTeleAcces/numeroVoieAiguillage", types.UnitNone},
	{"Etat ligne téléaccès compteur", types.CommandServiceTechnical, meter + "parametresTeleAcces/etatLigneTelephonique", types.UnitNone},
	{"Clé téléaccès compteur", types.CommandServiceTechnical, meter + "parametresTeleAcces/cle", types.UnitNone},
	{"Disjoncteur", types.CommandServiceTechnical, meterDevice + "disjoncteur/calibre/libelle", types.UnitNone},
	{"Plage heures creuses", types.CommandServiceTechnical, meterDevice + "relais/plageHeuresCreuses", types.UnitNone},
	{"Calibre transformateur", types.CommandServiceTechnical, currentTrans + "calibre/libelle", types.UnitNone},
	{"Couplage transformateur", types.CommandServiceTechnical, currentTrans + "couplage/libelle", types.UnitNone},
	{"Classe Precision transformateur", types.CommandServiceTechnical, currentTrans + "classePrecision/libelle", types.UnitNone},
	{"Position transformateur", types.CommandServiceTechnical, currentTrans + "position/libelle", types.UnitNone},
	{"Calibre Tension transformateur", types.CommandServiceTechnical, meterDevice + "transformateurTension/calibre/libelle", types.UnitNone},

	// situationContractuelle
	{"Calendrier Frn", types.CommandServiceTechnical, ".//situationContractuelle/structureTarifaire/calendrierFrn/libelle", types.UnitNone},
	{"Formule tarifaire", types.CommandServiceTechnical, ".//situationContractuelle/structureTarifaire/formuleTarifaireAcheminement/libelle", types.UnitNone},
	{"Puissance souscrite max", types.CommandServiceTechnical, ".//situationContractuelle/structureTarifaire/puissanceSouscriteMax/valeur", types.UnitKVA},

	// time series, each matched node carries a date (d) and a value (v)
	{"Courbes puissances", types.CommandServiceLoadCurvePA, ".//grandeur/points", types.UnitW},
	{"Courbes énergie active", types.CommandServiceEnergyEA, ".//grandeur/points", types.UnitWh},
	{"Courbes énergie réactive", types.CommandServiceEnergyER, ".//grandeur/points", types.UnitWh},
	{"Courbes index HC", types.CommandServiceIndexHC, ".//calendrier/classeTemporelle[idClasseTemporelle='HC']/valeur", types.UnitWh},
	{"Courbes index HP", types.CommandServiceIndexHP, ".//calendrier/classeTemporelle[idClasseTemporelle='HP']/valeur", types.UnitWh},
}
