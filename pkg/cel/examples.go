package cel

// RuleExpressionExamples lists consumption alert rules operators commonly
// configure under conso.alert_rules.
var RuleExpressionExamples = map[string]string{
	"overuse":               `consumed > allocated`,
	"ninety_percent":        `ratio >= 0.9`,
	"provisional_usage":     `provisional && consumed > 0.0`,
	"heavy_day":             `day_hours > 1000.0`,
	"centre_specific":       `centre == "idris" && ratio >= 0.8`,
	"gpu_partition":         `node_type.lowerAscii() == "gpu" && ratio >= 0.75`,
	"login_watch":           `login.startsWith("p") && day_hours > 500.0`,
	"project_list":          `project in ["gencmip6", "genclim"] && ratio > 1.0`,
	"combined_conditions":   `!provisional && allocated > 0.0 && consumed / allocated > 0.95`,
	"sub_project_threshold": `sub_project != "" && day_hours > 200.0`,
}
