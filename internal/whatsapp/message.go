package whatsapp

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
)

const confirmationTemplate = `🏥 *Confirmação de Agendamento*

Olá *{{.PatientName}}*!

Você tem um agendamento marcado{{if .Facility}} na {{.Facility}}{{end}}:
📅 *Data:* {{.Date}}
🕐 *Horário:* {{.Time}}{{if .Procedure}}
🔬 *Procedimento:* {{.Procedure}}{{end}}

Para confirmar seu agendamento, responda *SIM*.{{if .ContactPhone}}
Para reagendar, entre em contato: {{.ContactPhone}}{{end}}

_Esta é uma mensagem automática do sistema de agendamentos._`

var confirmationTmpl = template.Must(template.New("confirmation").Parse(confirmationTemplate))

// MessageBuilder renders the operator-facing confirmation text for an
// appointment. Clinic identity comes from configuration so the template stays
// deployment-neutral.
type MessageBuilder struct {
	ClinicName   string
	ContactPhone string
}

type confirmationData struct {
	PatientName  string
	Facility     string
	Date         string
	Time         string
	Procedure    string
	ContactPhone string
}

// Build renders the confirmation message for one appointment.
func (b MessageBuilder) Build(a appointment.Appointment) string {
	facility := a.FacilityName
	if facility == "" {
		facility = b.ClinicName
	}
	name := a.PatientName
	if name == "" {
		name = "paciente"
	}
	local := a.ScheduledAt.In(appointment.ClinicZone)
	data := confirmationData{
		PatientName:  name,
		Facility:     facility,
		Date:         local.Format("02/01/2006"),
		Time:         local.Format("15:04"),
		Procedure:    a.ProcedureTerm,
		ContactPhone: b.ContactPhone,
	}
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		// struct data cannot fail the template; keep a plain fallback anyway
		return "Olá " + name + "! Você tem um agendamento marcado. Responda SIM para confirmar."
	}
	return buf.String()
}

// confirmation keywords accepted from inbound replies
var confirmationKeywords = map[string]bool{
	"sim":      true,
	"s":        true,
	"confirmo": true,
	"ok":       true,
}

// IsConfirmationText reports whether an inbound reply counts as an
// appointment confirmation.
func IsConfirmationText(body string) bool {
	return confirmationKeywords[strings.ToLower(strings.TrimSpace(body))]
}
