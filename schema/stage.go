package schema

// UnknownStage is returned for codes outside the AJCC table.
const UnknownStage = "Unknown Stage"

var stageLabels = [...]string{
	"Stage I",
	"Stage IA",
	"Stage IB",
	"Stage II",
	"Stage IIA",
	"Stage IIB",
	"Stage III",
	"Stage IIIA",
	"Stage IIIB",
	"Stage IIIC",
	"Stage IV",
	"Stage X",
}

// StageLabel maps a numeric AJCC pathologic stage code to its label.
func StageLabel(code int) string {
	if code < 0 || code >= len(stageLabels) {
		return UnknownStage
	}
	return stageLabels[code]
}

// StageCodes returns every code with a known label, in ascending order.
func StageCodes() []int {
	codes := make([]int, len(stageLabels))
	for i := range stageLabels {
		codes[i] = i
	}
	return codes
}
