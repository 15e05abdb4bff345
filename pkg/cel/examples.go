package cel

// ConditionExamples are sample expressions accepted after the "expr:"
// prefix of an Applies If or column condition cell.
var ConditionExamples = map[string]string{
	"country_equals":     `shipment["SHIP_COUNTRY"] == "ES"`,
	"country_in_list":    `shipment["CUST_COUNTRY"] in ["FR", "BE", "LU"]`,
	"postal_prefix":      `shipment["CUST_POSTAL"].startsWith("75")`,
	"heavy_shipment":     `has_weight && weight > 1000.0`,
	"weight_band":        `has_weight && weight > 200.0 && weight <= 500.0`,
	"measurement_flag":   `"Condition/ExpressDelivery" in measurements && measurements["Condition/ExpressDelivery"] > 0.0`,
	"carrier_and_mode":   `shipment["CARRIER"] == "DHL" && shipment["TRANSPORT_MODE"] != "AIR"`,
	"agreement_specific": `agreement_id == "AGR-1" || shipment_id.startsWith("ETOF")`,
}
