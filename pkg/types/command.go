package types

import "sort"

// CommandService names a backend operation together with the measurement it
// selects. The value is what gets stored on fields and bindings.
type CommandService string

const (
	CommandServiceTechnical   CommandService = "technical"
	CommandServiceLoadCurvePA CommandService = "detailsV3-COURBE-PA"
	CommandServiceEnergyEA    CommandService = "detailsV3-ENERGIE-EA"
	CommandServiceEnergyER    CommandService = "detailsV3-ENERGIE-ER"
	CommandServiceIndexHC     CommandService = "detailsV3-INDEX-HC"
	CommandServiceIndexHP     CommandService = "detailsV3-INDEX-HP"
)

// Operation is the SOAP operation family a command service is sent to.
type Operation string

const (
	OperationTechnical Operation = "technical"
	OperationDetailsV3 Operation = "detailsV3"
)

// MeasureType is the mesuresTypeCode sent for detailed measurements.
type MeasureType string

const (
	MeasureTypeCurve  MeasureType = "COURBE"
	MeasureTypeEnergy MeasureType = "ENERGIE"
	MeasureTypeIndex  MeasureType = "INDEX"
)

// ServiceSpec describes how requests for a command service are shaped and how
// far back and in which steps its history is paginated.
type ServiceSpec struct {
	Operation   Operation
	MeasureType MeasureType
	CurveType   string
	// Series is true when the service returns dated points instead of scalars.
	Series bool
	// MaxHistoryMonths is how far back a variable without history starts.
	MaxHistoryMonths int
	// WindowDays is the size of each requested window. Zero means a single
	// window reaching up to today.
	WindowDays int
}

var commandServices = map[CommandService]ServiceSpec{
	CommandServiceTechnical: {
		Operation: OperationTechnical,
	},
	CommandServiceLoadCurvePA: {
		Operation:        OperationDetailsV3,
		MeasureType:      MeasureTypeCurve,
		CurveType:        "PA",
		Series:           true,
		MaxHistoryMonths: 24,
		WindowDays:       6,
	},
	CommandServiceEnergyEA: {
		Operation:        OperationDetailsV3,
		MeasureType:      MeasureTypeEnergy,
		CurveType:        "EA",
		Series:           true,
		MaxHistoryMonths: 36,
	},
	CommandServiceEnergyER: {
		Operation:        OperationDetailsV3,
		MeasureType:      MeasureTypeEnergy,
		CurveType:        "ER",
		Series:           true,
		MaxHistoryMonths: 36,
	},
	CommandServiceIndexHC: {
		Operation:        OperationDetailsV3,
		MeasureType:      MeasureTypeIndex,
		CurveType:        "HC",
		Series:           true,
		MaxHistoryMonths: 36,
	},
	CommandServiceIndexHP: {
		Operation:        OperationDetailsV3,
		MeasureType:      MeasureTypeIndex,
		CurveType:        "HP",
		Series:           true,
		MaxHistoryMonths: 36,
	},
}

// Spec returns the dispatch entry for the command service.
func (c CommandService) Spec() (ServiceSpec, bool) {
	s, ok := commandServices[c]
	return s, ok
}

// Valid reports whether c is a known command service.
func (c CommandService) Valid() bool {
	_, ok := commandServices[c]
	return ok
}

// IsSeries reports whether c returns time series. Unknown services are not.
func (c CommandService) IsSeries() bool {
	return commandServices[c].Series
}

// CommandServices returns every known command service in a stable order.
func CommandServices() []CommandService {
	all := make([]CommandService, 0, len(commandServices))
	for c := range commandServices {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// UnknownCommandServiceError is returned when a stored value doesn't match
// any entry of the dispatch table.
type UnknownCommandServiceError struct {
	Value CommandService
}

func (e UnknownCommandServiceError) Error() string {
	return "unknown command service: " + string(e.Value)
}
