package domain

import (
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	leaddomain "inmocrm_backend/internal/leads/domain"
)

// MessageTemplate is a reusable message body owned by a tenant. Steps
// reference it by id so copy edits apply to future dispatches without
// touching the campaign.
type MessageTemplate struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RenderMessage expands a message body against the lead's data. Templates
// use Go template syntax with the lead's captured fields plus name and
// phone, e.g. "Hola {{.name}}, vimos que buscas en {{.location}}".
// Unknown keys render as empty strings rather than failing the step:
// partially captured leads are the normal case, not an error.
func RenderMessage(body string, lead *leaddomain.Lead) (string, error) {
	tmpl, err := template.New("message").Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", err
	}

	data := make(map[string]any, len(lead.CapturedFields)+3)
	for key, value := range lead.CapturedFields {
		data[key] = value
	}
	data["phone"] = lead.Phone
	if lead.Name != nil {
		data["name"] = *lead.Name
	}
	if lead.Email != nil {
		data["email"] = *lead.Email
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", err
	}
	// missingkey=zero prints "<no value>" for absent map keys; strip it so
	// the lead never sees template internals.
	return strings.ReplaceAll(out.String(), "<no value>", ""), nil
}
