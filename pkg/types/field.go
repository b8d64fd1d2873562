package types

// Unit is the engineering unit attached to a field and copied onto the
// variables provisioned from it.
type Unit struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	UDUnit      string `json:"udunit"`
}

var (
	UnitNone = Unit{}
	UnitKWh  = Unit{Symbol: "kWh", Description: "kilowatthour", UDUnit: "kilowatthour"}
	UnitWh   = Unit{Symbol: "Wh", Description: "watthour", UDUnit: "watthour"}
	UnitW    = Unit{Symbol: "W", Description: "watt", UDUnit: "watt"}
	UnitKVA  = Unit{Symbol: "kVA", Description: "kilovoltampere", UDUnit: "kilovoltampere"}
)

// FieldDefinition is a catalog entry mapping a path expression in a command
// service response to a labelled value.
type FieldDefinition struct {
	ID             string         `json:"id"`
	Label          string         `json:"label"`
	CommandService CommandService `json:"commandService"`
	PathExpression string         `json:"pathExpression"`
	Unit           Unit           `json:"unit"`
}
