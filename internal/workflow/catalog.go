package workflow

import (
	"strings"

	"compliance/engine-service/internal/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Descriptor is presentation metadata derived from the transition table.
type Descriptor struct {
	Status   models.RequestStatus   `json:"status"`
	Label    string                 `json:"label"`
	Phase    Phase                  `json:"phase"`
	Terminal bool                   `json:"terminal"`
	Next     []models.RequestStatus `json:"next"`
}

// Label renders a status for display. Casers are stateful, so each call
// builds its own.
func Label(status models.RequestStatus) string {
	label := strings.ReplaceAll(string(status), "_", " ")
	label = cases.Title(language.English).String(label)
	label = strings.ReplaceAll(label, "Qc ", "QC ")
	return strings.ReplaceAll(label, "Sla ", "SLA ")
}

// Catalog describes every status. Next lists regular successors only since
// special exits depend on the remembered state.
func Catalog() []Descriptor {
	statuses := Statuses()
	out := make([]Descriptor, 0, len(statuses))
	for _, status := range statuses {
		phase := phaseMap[status]
		var next []models.RequestStatus
		if phase != PhaseSpecial {
			next = Allowed(State{Status: status})
		}
		out = append(out, Descriptor{
			Status:   status,
			Label:    Label(status),
			Phase:    phase,
			Terminal: phase == PhaseTerminal,
			Next:     next,
		})
	}
	return out
}
